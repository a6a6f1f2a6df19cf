package model

// File is an attachment already stored by the backend.
// Filename is the storage key and is required to delete it.
type File struct {
	ID               string `json:"id"`
	Filename         string `json:"filename"`
	OriginalFilename string `json:"originalFilename"`
	MimeType         string `json:"mimeType"`
	FileSize         int64  `json:"fileSize"`
	URL              string `json:"url"`
}
