package transfer

// UploadResult is what a media host returns for one stored asset.
type UploadResult struct {
	PublicURL string `json:"public_url"`
	PublicID  string `json:"public_id"`
}

type CloudinaryUploadResponse struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	URL       string `json:"url"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}
