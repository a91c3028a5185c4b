package client

const (
	// API version prefix
	apiV1Prefix = "/api/v1"

	// Authentication endpoints
	endpointLogin    = apiV1Prefix + "/auth/login"
	endpointRegister = apiV1Prefix + "/auth/register"

	// Session endpoints
	endpointSessions        = apiV1Prefix + "/chat/sessions"       // GET, POST
	endpointSessionByID     = apiV1Prefix + "/chat/sessions/%s"    // GET, DELETE
	endpointSessionMessages = endpointSessionByID + "/messages"    // GET
	endpointSessionTitle    = endpointSessionByID + "/title"       // PUT
	endpointExportChat      = apiV1Prefix + "/chat/export-chat/%s" // GET
)
