package model

// AppError is the error payload returned by the HTTP surface.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stage   string `json:"stage"`

	URL  string `json:"url,omitempty"`
	Hint string `json:"hint,omitempty"`
}

type ErrorResponse struct {
	Error AppError `json:"error"`
}
