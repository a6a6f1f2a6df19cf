package model

// Service is an entry of the static service catalog.
type Service struct {
	ID          string
	Name        string
	Description string
}

var Services = []Service{
	{ID: "floor-tiling", Name: "Floor Tiling", Description: "Ceramic, porcelain and stone floors"},
	{ID: "wall-tiling", Name: "Wall Tiling", Description: "Kitchens, splashbacks and feature walls"},
	{ID: "bathroom-renovation", Name: "Bathroom Renovation", Description: "Strip-out to finished bathroom"},
	{ID: "waterproofing", Name: "Waterproofing", Description: "Wet areas, balconies and showers"},
	{ID: "regrouting", Name: "Regrouting", Description: "Grout removal, regrout and sealing"},
	{ID: "tile-repair", Name: "Tile Repair", Description: "Cracked, drummy or missing tiles"},
}

// ServiceByID looks up a catalog entry.
func ServiceByID(id string) (Service, bool) {
	for _, s := range Services {
		if s.ID == id {
			return s, true
		}
	}
	return Service{}, false
}
