// Package azure talks to Azure Resource Manager for App Service publishing
// profiles and the provisioning used by end-to-end deployments.
package azure

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"gitdeploy/internal/profile"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/appservice/armappservice/v2"
)

// NewCredential returns the default Azure credential chain (environment,
// managed identity, Azure CLI). tenantID may be empty.
func NewCredential(tenantID string) (azcore.TokenCredential, error) {
	cred, err := azidentity.NewDefaultAzureCredential(&azidentity.DefaultAzureCredentialOptions{
		TenantID: tenantID,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Azure credential: %w", err)
	}
	return cred, nil
}

// Client creates ARM clients on demand for any subscription.
type Client struct {
	credential azcore.TokenCredential
	options    *arm.ClientOptions
	logger     *slog.Logger
}

// NewClient creates a Client. options may be nil.
func NewClient(credential azcore.TokenCredential, options *arm.ClientOptions, logger *slog.Logger) *Client {
	if options == nil {
		options = &arm.ClientOptions{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{credential: credential, options: options, logger: logger}
}

func (c *Client) webAppsClient(subscriptionID string) (*armappservice.WebAppsClient, error) {
	client, err := armappservice.NewWebAppsClient(subscriptionID, c.credential, c.options)
	if err != nil {
		return nil, fmt.Errorf("creating web apps client: %w", err)
	}
	return client, nil
}

// PublishingProfile downloads and parses the WebDeploy publishing profile of
// a web app, secrets included.
func (c *Client) PublishingProfile(ctx context.Context, subscriptionID, resourceGroup, appName string) (*profile.PublishingProfile, error) {
	client, err := c.webAppsClient(subscriptionID)
	if err != nil {
		return nil, err
	}

	resp, err := client.ListPublishingProfileXMLWithSecrets(ctx, resourceGroup, appName,
		armappservice.CsmPublishingProfileOptions{
			Format: to.Ptr(armappservice.PublishingProfileFormatWebDeploy),
		}, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching publishing profile of %s: %w", appName, err)
	}
	defer resp.Body.Close()

	pp, err := profile.ParseXML(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing publishing profile of %s: %w", appName, err)
	}

	if pp.DestinationAppURL == "" {
		host, err := c.DefaultHostName(ctx, subscriptionID, resourceGroup, appName)
		if err != nil {
			c.logger.Warn("Cannot resolve app URL", "app", appName, "error", err)
		} else {
			pp.DestinationAppURL = "https://" + host
		}
	}

	c.logger.Debug("Fetched publishing profile", "app", appName, "resource_group", resourceGroup)
	return pp, nil
}

// DefaultHostName returns the public host name of a web app.
func (c *Client) DefaultHostName(ctx context.Context, subscriptionID, resourceGroup, appName string) (string, error) {
	client, err := c.webAppsClient(subscriptionID)
	if err != nil {
		return "", err
	}

	resp, err := client.Get(ctx, resourceGroup, appName, nil)
	if err != nil {
		return "", fmt.Errorf("failed retrieving webapp properties: %w", err)
	}
	if resp.Properties == nil || resp.Properties.DefaultHostName == nil {
		return "", fmt.Errorf("webapp %s has no default host name", appName)
	}

	return *resp.Properties.DefaultHostName, nil
}

// EnableBasicPublishing allows username/password authentication on the SCM
// site, which Git pushes with publishing credentials require.
func (c *Client) EnableBasicPublishing(ctx context.Context, subscriptionID, resourceGroup, appName string) error {
	client, err := c.webAppsClient(subscriptionID)
	if err != nil {
		return err
	}

	_, err = client.UpdateScmAllowed(ctx, resourceGroup, appName, armappservice.CsmPublishingCredentialsPoliciesEntity{
		Properties: &armappservice.CsmPublishingCredentialsPoliciesEntityProperties{
			Allow: to.Ptr(true),
		},
	}, nil)
	if err != nil {
		return fmt.Errorf("enabling basic publishing credentials on %s: %w", appName, err)
	}
	return nil
}
