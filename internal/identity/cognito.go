package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	ciptypes "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
)

// CognitoAPI is the subset of the Cognito user pool client used here.
type CognitoAPI interface {
	InitiateAuth(ctx context.Context, params *cip.InitiateAuthInput, optFns ...func(*cip.Options)) (*cip.InitiateAuthOutput, error)
	RespondToAuthChallenge(ctx context.Context, params *cip.RespondToAuthChallengeInput, optFns ...func(*cip.Options)) (*cip.RespondToAuthChallengeOutput, error)
}

// CognitoProvider signs users in against a Cognito user pool app client.
type CognitoProvider struct {
	api      CognitoAPI
	clientID string
}

// NewCognitoProvider builds a provider for the app client in the given region.
func NewCognitoProvider(ctx context.Context, region, clientID string) (*CognitoProvider, error) {
	if strings.TrimSpace(clientID) == "" {
		return nil, errors.New("cognito: client id is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return NewCognitoProviderWithAPI(cip.NewFromConfig(awsCfg), clientID), nil
}

// NewCognitoProviderWithAPI wraps an existing client.
func NewCognitoProviderWithAPI(api CognitoAPI, clientID string) *CognitoProvider {
	return &CognitoProvider{api: api, clientID: clientID}
}

// InitiateAuth starts a USER_PASSWORD_AUTH exchange.
func (p *CognitoProvider) InitiateAuth(ctx context.Context, username, password string) (Outcome, error) {
	out, err := p.api.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow: ciptypes.AuthFlowTypeUserPasswordAuth,
		ClientId: aws.String(p.clientID),
		AuthParameters: map[string]string{
			ParamUsername: username,
			ParamPassword: password,
		},
	})
	if err != nil {
		return Outcome{}, mapCognitoError(err)
	}

	if out.ChallengeName != "" {
		return Outcome{
			ChallengeName: string(out.ChallengeName),
			Session:       aws.ToString(out.Session),
		}, nil
	}

	result, ok := fromCognitoResult(out.AuthenticationResult)
	if !ok {
		return Outcome{}, ErrUnexpectedResponse
	}
	return Outcome{Result: &result}, nil
}

// RespondToNewPasswordChallenge answers a NEW_PASSWORD_REQUIRED challenge.
func (p *CognitoProvider) RespondToNewPasswordChallenge(ctx context.Context, username, newPassword, session string) (AuthResult, error) {
	out, err := p.api.RespondToAuthChallenge(ctx, &cip.RespondToAuthChallengeInput{
		ChallengeName: ciptypes.ChallengeNameTypeNewPasswordRequired,
		ClientId:      aws.String(p.clientID),
		Session:       aws.String(session),
		ChallengeResponses: map[string]string{
			ParamUsername:    username,
			ParamNewPassword: newPassword,
		},
	})
	if err != nil {
		err = mapCognitoError(err)
		if errors.Is(err, ErrNotAuthorized) {
			return AuthResult{}, fmt.Errorf("%w: %v", ErrChallengeRejected, err)
		}
		return AuthResult{}, err
	}

	result, ok := fromCognitoResult(out.AuthenticationResult)
	if !ok {
		return AuthResult{}, ErrUnexpectedResponse
	}
	return result, nil
}

// Refresh runs a REFRESH_TOKEN_AUTH exchange. Cognito does not rotate the
// refresh token, so the returned RefreshToken is normally empty.
func (p *CognitoProvider) Refresh(ctx context.Context, refreshToken string) (AuthResult, error) {
	out, err := p.api.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow:       ciptypes.AuthFlowTypeRefreshTokenAuth,
		ClientId:       aws.String(p.clientID),
		AuthParameters: map[string]string{ParamRefreshToken: refreshToken},
	})
	if err != nil {
		return AuthResult{}, mapCognitoError(err)
	}

	result, ok := fromCognitoResult(out.AuthenticationResult)
	if !ok {
		return AuthResult{}, ErrUnexpectedResponse
	}
	return result, nil
}

func fromCognitoResult(r *ciptypes.AuthenticationResultType) (AuthResult, bool) {
	if r == nil {
		return AuthResult{}, false
	}
	result := AuthResult{
		AccessToken:  aws.ToString(r.AccessToken),
		IDToken:      aws.ToString(r.IdToken),
		RefreshToken: aws.ToString(r.RefreshToken),
		ExpiresIn:    r.ExpiresIn,
		TokenType:    aws.ToString(r.TokenType),
	}
	if result.BearerToken() == "" {
		return AuthResult{}, false
	}
	return result, true
}

func mapCognitoError(err error) error {
	var notAuthorized *ciptypes.NotAuthorizedException
	var userNotFound *ciptypes.UserNotFoundException
	var passwordReset *ciptypes.PasswordResetRequiredException
	switch {
	case errors.As(err, &notAuthorized):
		return fmt.Errorf("%w: %s", ErrNotAuthorized, notAuthorized.ErrorMessage())
	case errors.As(err, &userNotFound):
		return fmt.Errorf("%w: %s", ErrNotAuthorized, userNotFound.ErrorMessage())
	case errors.As(err, &passwordReset):
		return fmt.Errorf("%w: %s", ErrNotAuthorized, passwordReset.ErrorMessage())
	default:
		return fmt.Errorf("cognito: %w", err)
	}
}

var _ Provider = (*CognitoProvider)(nil)
