// Package support assembles the customer support application: a mock CRM,
// the CRM tools and the agent tree (customer_support_agent routing to
// after_sale_agent and shopping_guide_agent).
package support
