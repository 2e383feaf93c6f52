package azure

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/appservice/armappservice/v2"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
)

// Runtime is a Linux App Service runtime stack.
type Runtime struct {
	Stack   string
	Version string
}

var (
	RuntimeNode   = Runtime{Stack: "NODE", Version: "20-lts"}
	RuntimePHP    = Runtime{Stack: "PHP", Version: "8.2"}
	RuntimePython = Runtime{Stack: "PYTHON", Version: "3.11"}
)

// LinuxFxVersion is the site config value selecting the runtime.
func (r Runtime) LinuxFxVersion() string {
	return strings.ToUpper(r.Stack) + "|" + r.Version
}

// PlanSKU is an App Service plan pricing tier.
type PlanSKU struct {
	Name string
	Tier string
}

var (
	SKUFree     = PlanSKU{Name: "F1", Tier: "Free"}
	SKUBasic    = PlanSKU{Name: "B1", Tier: "Basic"}
	SKUStandard = PlanSKU{Name: "S1", Tier: "Standard"}
)

// CreateResourceGroup creates or updates a resource group.
func (c *Client) CreateResourceGroup(ctx context.Context, subscriptionID, name, location string, tags map[string]string) error {
	client, err := armresources.NewResourceGroupsClient(subscriptionID, c.credential, c.options)
	if err != nil {
		return fmt.Errorf("creating resource groups client: %w", err)
	}

	group := armresources.ResourceGroup{
		Location: to.Ptr(location),
		Tags:     map[string]*string{},
	}
	for k, v := range tags {
		group.Tags[k] = to.Ptr(v)
	}

	if _, err := client.CreateOrUpdate(ctx, name, group, nil); err != nil {
		return fmt.Errorf("creating resource group %s: %w", name, err)
	}

	c.logger.Info("Created resource group", "name", name, "location", location)
	return nil
}

// DeleteResourceGroup deletes a resource group and waits for completion.
func (c *Client) DeleteResourceGroup(ctx context.Context, subscriptionID, name string) error {
	client, err := armresources.NewResourceGroupsClient(subscriptionID, c.credential, c.options)
	if err != nil {
		return fmt.Errorf("creating resource groups client: %w", err)
	}

	poller, err := client.BeginDelete(ctx, name, nil)
	if err != nil {
		return fmt.Errorf("deleting resource group %s: %w", name, err)
	}
	if _, err := poller.PollUntilDone(ctx, nil); err != nil {
		return fmt.Errorf("waiting for deletion of resource group %s: %w", name, err)
	}

	c.logger.Info("Deleted resource group", "name", name)
	return nil
}

// CreatePlan creates a Linux App Service plan and returns its resource ID.
func (c *Client) CreatePlan(ctx context.Context, subscriptionID, resourceGroup, name, location string, sku PlanSKU) (string, error) {
	client, err := armappservice.NewPlansClient(subscriptionID, c.credential, c.options)
	if err != nil {
		return "", fmt.Errorf("creating plans client: %w", err)
	}

	poller, err := client.BeginCreateOrUpdate(ctx, resourceGroup, name, armappservice.Plan{
		Location: to.Ptr(location),
		Kind:     to.Ptr("linux"),
		SKU: &armappservice.SKUDescription{
			Name: to.Ptr(sku.Name),
			Tier: to.Ptr(sku.Tier),
		},
		Properties: &armappservice.PlanProperties{
			Reserved: to.Ptr(true),
		},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("creating plan %s: %w", name, err)
	}

	resp, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("waiting for plan %s: %w", name, err)
	}
	if resp.ID == nil {
		return "", fmt.Errorf("plan %s has no resource id", name)
	}

	c.logger.Info("Created App Service plan", "name", name, "sku", sku.Name)
	return *resp.ID, nil
}

// CreateWebApp creates a Linux web app on planID that accepts local Git
// deployments.
func (c *Client) CreateWebApp(ctx context.Context, subscriptionID, resourceGroup, name, location, planID string, runtime Runtime) error {
	client, err := c.webAppsClient(subscriptionID)
	if err != nil {
		return err
	}

	poller, err := client.BeginCreateOrUpdate(ctx, resourceGroup, name, armappservice.Site{
		Location: to.Ptr(location),
		Kind:     to.Ptr("app,linux"),
		Properties: &armappservice.SiteProperties{
			ServerFarmID: to.Ptr(planID),
			HTTPSOnly:    to.Ptr(true),
			SiteConfig: &armappservice.SiteConfig{
				LinuxFxVersion: to.Ptr(runtime.LinuxFxVersion()),
				ScmType:        to.Ptr(armappservice.ScmTypeLocalGit),
			},
		},
	}, nil)
	if err != nil {
		return fmt.Errorf("creating web app %s: %w", name, err)
	}
	if _, err := poller.PollUntilDone(ctx, nil); err != nil {
		return fmt.Errorf("waiting for web app %s: %w", name, err)
	}

	c.logger.Info("Created web app", "name", name, "runtime", runtime.LinuxFxVersion())
	return nil
}
