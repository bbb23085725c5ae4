package domain

// Operator roles carried in bearer tokens.
const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)
