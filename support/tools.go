package support

import (
	"errors"

	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/tool"
)

// Tool names.
const (
	ToolCreateServiceRecord    = "create_service_record"
	ToolUpdateServiceRecord    = "update_service_record"
	ToolDeleteServiceRecord    = "delete_service_record"
	ToolGetCustomerInfo        = "get_customer_info"
	ToolGetCustomerPurchases   = "get_customer_purchases"
	ToolGetServiceRecords      = "get_service_records"
	ToolQueryWarranty          = "query_warranty"
	ToolVerifyCustomerIdentity = "verify_customer_identity"
)

// ScopeCRMVerification is the auth scope recorded when a customer verified
// themselves through the CRM.
const ScopeCRMVerification = "crm_verification"

// AfterSaleTools are the capabilities of the after-sale specialist.
var AfterSaleTools = []string{
	ToolVerifyCustomerIdentity,
	ToolGetCustomerInfo,
	ToolGetCustomerPurchases,
	ToolQueryWarranty,
	ToolGetServiceRecords,
	ToolCreateServiceRecord,
	ToolUpdateServiceRecord,
	ToolDeleteServiceRecord,
}

// ShoppingGuideTools are the capabilities of the shopping-guide specialist.
var ShoppingGuideTools = []string{
	ToolGetCustomerInfo,
	ToolGetCustomerPurchases,
}

type noArgs struct{}

type serialArgs struct {
	Serial string `json:"serial" jsonschema:"required,description=Product serial number"`
}

type createRecordArgs struct {
	Serial string `json:"serial" jsonschema:"required,description=Serial number of the product to repair"`
	Issue  string `json:"issue" jsonschema:"required,description=Description of the fault"`
}

type updateRecordArgs struct {
	RecordID string `json:"record_id" jsonschema:"required,description=Service record id"`
	Issue    string `json:"issue,omitempty" jsonschema:"description=New fault description"`
	Status   string `json:"status,omitempty" jsonschema:"enum=open,enum=in_progress,enum=resolved,enum=cancelled"`
}

type recordArgs struct {
	RecordID string `json:"record_id" jsonschema:"required,description=Service record id"`
}

type verifyArgs struct {
	Email string `json:"email" jsonschema:"required,description=Email address on the customer account"`
	Name  string `json:"name" jsonschema:"required,description=Full name on the customer account"`
}

// NewCRMTools builds every CRM tool over crm. All tools except
// verify_customer_identity act on the verified customer only and are
// identity protected.
func NewCRMTools(crm *CRM) ([]tool.Tool, error) {
	builders := []func(*CRM) (*tool.FunctionTool, error){
		verifyIdentityTool,
		customerInfoTool,
		purchasesTool,
		warrantyTool,
		serviceRecordsTool,
		createRecordTool,
		updateRecordTool,
		deleteRecordTool,
	}

	tools := make([]tool.Tool, 0, len(builders))

	for _, build := range builders {
		t, err := build(crm)
		if err != nil {
			return nil, err
		}

		tools = append(tools, t)
	}

	return tools, nil
}

// verifiedCustomer returns the customer id the gate or a verification wrote.
// The toolset rejects protected calls without identity before they run.
func verifiedCustomer(tc *core.ToolContext) string {
	id, _ := tc.CustomerID()
	return id
}

// crmError keeps lookup failures inside the reasoning loop with a
// model-readable message. Misses and ownership mismatches are the caller's
// fault and leave the tool's breaker alone.
func crmError(name string, err error) error {
	switch {
	case errors.Is(err, ErrNotOwner):
		return &tool.ToolError{Tool: name, Message: err.Error(), Code: tool.CodeCapability, Err: err}
	case errors.Is(err, ErrNotFound):
		return &tool.ToolError{Tool: name, Message: err.Error(), Code: tool.CodeNotFound, Err: err}
	default:
		return &tool.ToolError{Tool: name, Message: err.Error(), Code: tool.CodeExecution, Err: err}
	}
}

func verifyIdentityTool(crm *CRM) (*tool.FunctionTool, error) {
	return tool.NewTypedTool(ToolVerifyCustomerIdentity,
		"Verify the customer's identity by the email address and full name on their account.",
		func(tc *core.ToolContext, in verifyArgs) (map[string]any, error) {
			cust, ok := crm.VerifyIdentity(in.Email, in.Name)
			if !ok {
				tc.Logger().Info("support.identity.rejected", "agent", tc.AgentName())
				return map[string]any{"verified": false}, nil
			}

			tc.SetState(core.KeyCustomerID, cust.ID)
			tc.SetState(core.KeyAuthScope, ScopeCRMVerification)

			tc.Logger().Info("support.identity.verified", "agent", tc.AgentName(), "customer_id", cust.ID)

			return map[string]any{"verified": true, "customer_id": cust.ID}, nil
		})
}

func customerInfoTool(crm *CRM) (*tool.FunctionTool, error) {
	return tool.NewTypedTool(ToolGetCustomerInfo,
		"Get the profile of the current customer.",
		func(tc *core.ToolContext, _ noArgs) (Customer, error) {
			cust, err := crm.Customer(verifiedCustomer(tc))
			if err != nil {
				return Customer{}, crmError(ToolGetCustomerInfo, err)
			}

			return cust, nil
		}, tool.RequireIdentity)
}

func purchasesTool(crm *CRM) (*tool.FunctionTool, error) {
	return tool.NewTypedTool(ToolGetCustomerPurchases,
		"List the products the current customer purchased, newest first.",
		func(tc *core.ToolContext, _ noArgs) (map[string]any, error) {
			return map[string]any{"purchases": crm.Purchases(verifiedCustomer(tc))}, nil
		}, tool.RequireIdentity)
}

func warrantyTool(crm *CRM) (*tool.FunctionTool, error) {
	return tool.NewTypedTool(ToolQueryWarranty,
		"Query the warranty status of a product the current customer owns.",
		func(tc *core.ToolContext, in serialArgs) (Warranty, error) {
			w, err := crm.Warranty(verifiedCustomer(tc), in.Serial)
			if err != nil {
				return Warranty{}, crmError(ToolQueryWarranty, err)
			}

			return w, nil
		}, tool.RequireIdentity)
}

func serviceRecordsTool(crm *CRM) (*tool.FunctionTool, error) {
	return tool.NewTypedTool(ToolGetServiceRecords,
		"List the repair service records of the current customer.",
		func(tc *core.ToolContext, _ noArgs) (map[string]any, error) {
			return map[string]any{"records": crm.ServiceRecords(verifiedCustomer(tc))}, nil
		}, tool.RequireIdentity)
}

func createRecordTool(crm *CRM) (*tool.FunctionTool, error) {
	return tool.NewTypedTool(ToolCreateServiceRecord,
		"Create a repair service record. Only call this after the customer agreed to a repair.",
		func(tc *core.ToolContext, in createRecordArgs) (ServiceRecord, error) {
			r, err := crm.CreateServiceRecord(verifiedCustomer(tc), in.Serial, in.Issue)
			if err != nil {
				return ServiceRecord{}, crmError(ToolCreateServiceRecord, err)
			}

			return r, nil
		}, tool.RequireIdentity)
}

func updateRecordTool(crm *CRM) (*tool.FunctionTool, error) {
	return tool.NewTypedTool(ToolUpdateServiceRecord,
		"Update the fault description or status of a service record.",
		func(tc *core.ToolContext, in updateRecordArgs) (ServiceRecord, error) {
			r, err := crm.UpdateServiceRecord(verifiedCustomer(tc), in.RecordID, in.Issue, in.Status)
			if err != nil {
				return ServiceRecord{}, crmError(ToolUpdateServiceRecord, err)
			}

			return r, nil
		}, tool.RequireIdentity)
}

func deleteRecordTool(crm *CRM) (*tool.FunctionTool, error) {
	return tool.NewTypedTool(ToolDeleteServiceRecord,
		"Delete a service record of the current customer.",
		func(tc *core.ToolContext, in recordArgs) (map[string]any, error) {
			if err := crm.DeleteServiceRecord(verifiedCustomer(tc), in.RecordID); err != nil {
				return nil, crmError(ToolDeleteServiceRecord, err)
			}

			return map[string]any{"deleted": in.RecordID}, nil
		}, tool.RequireIdentity)
}
