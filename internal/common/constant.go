package common

// AuthorizationHeaderName is the HTTP header carrying the bearer access token.
const AuthorizationHeaderName = "Authorization"

// BearerPrefix precedes the JWT in the Authorization header.
const BearerPrefix = "Bearer "

// Upload status values stored in the uploads table.
const (
	UploadStatusPending   = "pending"
	UploadStatusCompleted = "completed"
)
