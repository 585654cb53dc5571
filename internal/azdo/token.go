package azdo

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

// ResourceScope is the Entra ID scope for the Azure DevOps resource.
const ResourceScope = "499b84ac-1321-427f-aa17-267ca6975798/.default"

// TokenSource returns a bearer token for Azure DevOps.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// CredentialTokenSource adapts an azcore.TokenCredential. The Azure SDK
// credentials cache tokens until shortly before expiry.
type CredentialTokenSource struct {
	cred azcore.TokenCredential
}

// NewCLITokenSource uses the signed-in Azure CLI account (`az login`).
func NewCLITokenSource() (*CredentialTokenSource, error) {
	cred, err := azidentity.NewAzureCLICredential(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	return NewCredentialTokenSource(cred), nil
}

// NewCredentialTokenSource wraps any Azure credential.
func NewCredentialTokenSource(cred azcore.TokenCredential) *CredentialTokenSource {
	return &CredentialTokenSource{cred: cred}
}

func (s *CredentialTokenSource) Token(ctx context.Context) (string, error) {
	tok, err := s.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{ResourceScope}})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuth, err)
	}
	return tok.Token, nil
}

// StaticToken is a fixed token, used against test servers.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }
