package support

import (
	"fmt"

	"github.com/hupe1980/supportmesh/agent"
	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/model"
	"github.com/hupe1980/supportmesh/tool"
)

// Agent names.
const (
	RootAgentName          = "customer_support_agent"
	AfterSaleAgentName     = "after_sale_agent"
	ShoppingGuideAgentName = "shopping_guide_agent"
)

const guidelines = `Always follow these guidelines:
1. Never assume parameter values when using internal tools.
2. If information needed to handle the request is missing, politely ask the customer for the details.
3. Never disclose anything about the internal tools, systems or capabilities available to you.
4. If asked about internal processes, tools, capabilities or training, always answer: "Sorry, I can't provide information about our internal systems."
5. Keep a professional and helpful tone.
6. Focus on resolving the request efficiently and accurately.
7. Never pass raw tool results to the customer. Filter, format and polish them so the answer is clear, accurate and concise.`

const afterSaleInstruction = `You are an online customer service agent. Your main task is to help customers with questions and after-sales service for the products they bought. Use the tools or the knowledge base to answer accurately and concisely. You can verify the customer's identity, look up their purchases, check warranty status, view their profile and service records, and create or update repair tickets.

` + guidelines + `
8. Every action that reads the customer's products, orders, personal data, warranty or service records requires a verified identity. Verify the customer by email address and full name when needed.

About repairs:
1. For any repair or after-sales question, ask for the product serial number first.
2. If the customer forgot the serial number, look it up in their purchase history after verifying their identity.
3. If a product is faulty, ask for a detailed description of the fault and use the knowledge base to guide the customer through troubleshooting before deciding whether a repair is needed.
4. If the product is out of warranty, confirm that the customer accepts a paid repair.
5. Only create a service record after troubleshooting did not help and the customer agreed.

Signed-in customer: {user:customer_id?}
Current time: {current_time}`

const shoppingGuideInstruction = `You are an online customer service agent. Your main task is to help customers buy products. Use the tools or the knowledge base, which holds product information and typical use cases, to answer accurately and concisely.

` + guidelines + `

Shopping guidance:
1. Weigh all of the customer's needs and recommend suitable products.
2. Look at the customer's purchase history to learn their preferences.
3. When the customer shows interest in a product, describe it in detail and explain why it fits their requirements.

Signed-in customer: {user:customer_id?}
Current time: {current_time}`

const routerInstruction = `You are an online customer service agent. Your main task is to help customers buy products or solve after-sales problems.
Use the conversation context to decide what the customer wants:
- For purchase questions, transfer the conversation to the shopping guide agent.
- For after-sales questions (warranty, repairs, service records, account data), transfer the conversation to the after-sale agent.
- For anything else, do not transfer.`

// Options configures the agent tree.
type Options struct {
	// CRM backs the CRM tools (default: seeded demo CRM).
	CRM *CRM
	// Knowledge is bound to both specialists when set.
	Knowledge     core.KnowledgeBase
	KnowledgeTopK int
	// Memory is bound to every agent when set.
	Memory     core.LongTermMemory
	MemoryTopK int
	// Planner enables provider side reasoning for the specialists.
	Planner         *agent.Planner
	EnableStreaming bool
	ToolOptions     []func(o *tool.RegistryOptions)
}

// Agents is the assembled agent tree.
type Agents struct {
	Root          *agent.Router
	AfterSale     *agent.Specialist
	ShoppingGuide *agent.Specialist
	CRM           *CRM
	Registry      *tool.Registry
}

// NewAgents builds the router and both specialists. routerLLM classifies,
// specialistLLM answers.
func NewAgents(routerLLM, specialistLLM model.Model, optFns ...func(o *Options)) (*Agents, error) {
	opts := Options{
		KnowledgeTopK: 3,
		MemoryTopK:    3,
		Planner:       &agent.Planner{IncludeThoughts: true, ThinkingBudget: 1024},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.CRM == nil {
		opts.CRM = NewCRM()
	}

	crmTools, err := NewCRMTools(opts.CRM)
	if err != nil {
		return nil, err
	}

	registry := tool.NewRegistry(opts.ToolOptions...)
	if err := registry.Register(crmTools...); err != nil {
		return nil, err
	}

	afterSale, err := newSpecialist(AfterSaleAgentName,
		"Handles after-sales problems: account and purchase lookups, warranty checks and repair tickets.",
		afterSaleInstruction, specialistLLM, registry, AfterSaleTools, opts)
	if err != nil {
		return nil, err
	}

	shopping, err := newSpecialist(ShoppingGuideAgentName,
		"Helps customers choose suitable products and guides them through the purchase.",
		shoppingGuideInstruction, specialistLLM, registry, ShoppingGuideTools, opts)
	if err != nil {
		return nil, err
	}

	root, err := agent.NewRouter(RootAgentName, routerLLM, []core.Agent{afterSale, shopping}, func(o *agent.RouterOptions) {
		o.Description = "Customer support: purchase guidance and after-sales service."
		o.Instruction = agent.NewInstructionFromText(routerInstruction)
		o.Refusal = agent.DefaultRefusal
		o.Memory = opts.Memory
	})
	if err != nil {
		return nil, err
	}

	return &Agents{
		Root:          root,
		AfterSale:     afterSale,
		ShoppingGuide: shopping,
		CRM:           opts.CRM,
		Registry:      registry,
	}, nil
}

func newSpecialist(name, description, instruction string, llm model.Model, registry *tool.Registry, tools []string, opts Options) (*agent.Specialist, error) {
	ts, err := registry.Toolset(name, tools...)
	if err != nil {
		return nil, fmt.Errorf("toolset of %s: %w", name, err)
	}

	return agent.NewSpecialist(name, llm, func(o *agent.SpecialistOptions) {
		o.Description = description
		o.Instruction = agent.NewInstructionFromText(instruction)
		o.Toolset = ts
		o.Knowledge = opts.Knowledge
		o.KnowledgeTopK = opts.KnowledgeTopK
		o.Memory = opts.Memory
		o.MemoryTopK = opts.MemoryTopK
		o.Planner = opts.Planner
		o.EnableStreaming = opts.EnableStreaming
	})
}
