package identity

// Auth flows accepted by InitiateAuth.
const (
	FlowUserPassword = "USER_PASSWORD_AUTH"
	FlowRefreshToken = "REFRESH_TOKEN_AUTH"
)

// Parameter names used in AuthParameters and ChallengeResponses.
const (
	ParamUsername     = "USERNAME"
	ParamPassword     = "PASSWORD"
	ParamNewPassword  = "NEW_PASSWORD"
	ParamRefreshToken = "REFRESH_TOKEN"
)

// InitiateAuthRequest is the body of POST /auth/initiate.
type InitiateAuthRequest struct {
	AuthFlow       string            `json:"AuthFlow"`
	AuthParameters map[string]string `json:"AuthParameters"`
}

// RespondToAuthChallengeRequest is the body of POST /auth/challenge.
type RespondToAuthChallengeRequest struct {
	ChallengeName      string            `json:"ChallengeName"`
	Session            string            `json:"Session"`
	ChallengeResponses map[string]string `json:"ChallengeResponses"`
}

// AuthResponse is returned by both auth endpoints.
type AuthResponse struct {
	AuthenticationResult *AuthResult `json:"AuthenticationResult,omitempty"`
	ChallengeName        string      `json:"ChallengeName,omitempty"`
	Session              string      `json:"Session,omitempty"`
}

// ErrorResponse is the error body of the auth endpoints.
type ErrorResponse struct {
	Type    string `json:"__type,omitempty"`
	Message string `json:"message"`
}

// Error types reported in ErrorResponse.Type.
const (
	TypeNotAuthorized        = "NotAuthorizedException"
	TypeInvalidPassword      = "InvalidPasswordException"
	TypeInvalidParameter     = "InvalidParameterException"
	TypeUsernameExists       = "UsernameExistsException"
	TypeTooManyRequests      = "TooManyRequestsException"
	TypeInternalErrorService = "InternalErrorException"
)
