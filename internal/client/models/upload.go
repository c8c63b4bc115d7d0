package models

type SignedUrlRequest struct {
	FileName string `json:"file_name"`
}

type SignedUrlResponse struct {
	SignedUrl string `json:"signedUrl"`
}
