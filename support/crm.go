package support

import (
	"crypto/rand"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	// ErrNotFound is returned for unknown customers, products or records.
	ErrNotFound = errors.New("not found")
	// ErrNotOwner is returned when a record belongs to another customer.
	ErrNotOwner = errors.New("record belongs to another customer")
)

// Service record statuses.
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusResolved   = "resolved"
	StatusCancelled  = "cancelled"
)

// Customer is a CRM customer profile.
type Customer struct {
	ID    string `json:"customer_id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	Tier  string `json:"tier"`
}

// Purchase is one purchased product.
type Purchase struct {
	OrderID     string    `json:"order_id"`
	CustomerID  string    `json:"-"`
	Product     string    `json:"product"`
	Serial      string    `json:"serial"`
	PurchasedAt time.Time `json:"purchased_at"`
	// WarrantyMonths is the coverage length from the purchase date.
	WarrantyMonths int     `json:"warranty_months"`
	Price          float64 `json:"price"`
}

// Warranty is the warranty status of one product.
type Warranty struct {
	Serial    string    `json:"serial"`
	Product   string    `json:"product"`
	Covered   bool      `json:"covered"`
	ExpiresAt time.Time `json:"expires_at"`
	DaysLeft  int       `json:"days_left"`
}

// ServiceRecord is a repair ticket.
type ServiceRecord struct {
	ID         string    `json:"record_id"`
	CustomerID string    `json:"-"`
	Serial     string    `json:"serial"`
	Issue      string    `json:"issue"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CRM is an in-memory customer relationship system. It is safe for
// concurrent use.
type CRM struct {
	mu        sync.RWMutex
	customers map[string]Customer
	purchases []Purchase
	records   map[string]ServiceRecord
	now       func() time.Time
	entropy   *ulid.MonotonicEntropy
}

// CRMOptions configures the CRM.
type CRMOptions struct {
	// Now is the clock used for warranty checks and record timestamps.
	Now func() time.Time
	// Empty skips the demo data.
	Empty bool
}

// NewCRM creates a CRM seeded with demo customers and purchases.
func NewCRM(optFns ...func(o *CRMOptions)) *CRM {
	opts := CRMOptions{Now: time.Now}

	for _, fn := range optFns {
		fn(&opts)
	}

	c := &CRM{
		customers: make(map[string]Customer),
		records:   make(map[string]ServiceRecord),
		now:       opts.Now,
		entropy:   ulid.Monotonic(rand.Reader, 0),
	}

	if !opts.Empty {
		c.seed()
	}

	return c
}

func (c *CRM) seed() {
	now := c.now().UTC()

	c.AddCustomer(Customer{ID: "CUST001", Name: "John Smith", Email: "john.smith@example.com", Phone: "555-0101", Tier: "gold"})
	c.AddCustomer(Customer{ID: "CUST002", Name: "Maria Garcia", Email: "maria.garcia@example.com", Phone: "555-0102", Tier: "silver"})
	c.AddCustomer(Customer{ID: "CUST003", Name: "Wei Chen", Email: "wei.chen@example.com", Phone: "555-0103", Tier: "standard"})

	c.AddPurchase(Purchase{OrderID: "ORD1001", CustomerID: "CUST001", Product: "UltraBook Pro 14", Serial: "SN-UB14-0001",
		PurchasedAt: now.AddDate(0, -8, 0), WarrantyMonths: 24, Price: 1299})
	c.AddPurchase(Purchase{OrderID: "ORD1002", CustomerID: "CUST001", Product: "NoiseAway Headphones", Serial: "SN-NA-0042",
		PurchasedAt: now.AddDate(-1, -3, 0), WarrantyMonths: 12, Price: 199})
	c.AddPurchase(Purchase{OrderID: "ORD1003", CustomerID: "CUST002", Product: "SmartWatch S3", Serial: "SN-SW3-0310",
		PurchasedAt: now.AddDate(0, -2, 0), WarrantyMonths: 12, Price: 249})
	c.AddPurchase(Purchase{OrderID: "ORD1004", CustomerID: "CUST003", Product: "HomeHub Mini", Serial: "SN-HHM-0777",
		PurchasedAt: now.AddDate(0, -20, 0), WarrantyMonths: 12, Price: 59})
}

// AddCustomer inserts or replaces a customer.
func (c *CRM) AddCustomer(cust Customer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.customers[cust.ID] = cust
}

// AddPurchase records a purchase.
func (c *CRM) AddPurchase(p Purchase) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.purchases = append(c.purchases, p)
}

// Customer returns the profile of id.
func (c *CRM) Customer(id string) (Customer, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cust, ok := c.customers[id]
	if !ok {
		return Customer{}, fmt.Errorf("customer %s: %w", id, ErrNotFound)
	}

	return cust, nil
}

// VerifyIdentity returns the customer whose email and name match. Matching
// is case-insensitive and ignores surrounding whitespace.
func (c *CRM) VerifyIdentity(email, name string) (Customer, bool) {
	email = strings.ToLower(strings.TrimSpace(email))
	name = strings.ToLower(strings.TrimSpace(name))

	if email == "" || name == "" {
		return Customer{}, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, cust := range c.customers {
		if strings.ToLower(cust.Email) == email && strings.ToLower(cust.Name) == name {
			return cust, true
		}
	}

	return Customer{}, false
}

// Purchases lists the purchases of customerID, newest first.
func (c *CRM) Purchases(customerID string) []Purchase {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Purchase

	for _, p := range c.purchases {
		if p.CustomerID == customerID {
			out = append(out, p)
		}
	}

	slices.SortFunc(out, func(a, b Purchase) int { return b.PurchasedAt.Compare(a.PurchasedAt) })

	return out
}

// Warranty returns the warranty status of a product the customer owns.
func (c *CRM) Warranty(customerID, serial string) (Warranty, error) {
	p, err := c.purchase(customerID, serial)
	if err != nil {
		return Warranty{}, err
	}

	expires := p.PurchasedAt.AddDate(0, p.WarrantyMonths, 0)
	left := int(expires.Sub(c.now()).Hours() / 24)

	return Warranty{
		Serial:    p.Serial,
		Product:   p.Product,
		Covered:   left > 0,
		ExpiresAt: expires,
		DaysLeft:  max(left, 0),
	}, nil
}

func (c *CRM) purchase(customerID, serial string) (Purchase, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, p := range c.purchases {
		if p.Serial == serial && p.CustomerID == customerID {
			return p, nil
		}
	}

	return Purchase{}, fmt.Errorf("product %s: %w", serial, ErrNotFound)
}

// ServiceRecords lists the service records of customerID, oldest first.
func (c *CRM) ServiceRecords(customerID string) []ServiceRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []ServiceRecord

	for _, r := range c.records {
		if r.CustomerID == customerID {
			out = append(out, r)
		}
	}

	// ULIDs sort by creation time.
	slices.SortFunc(out, func(a, b ServiceRecord) int { return strings.Compare(a.ID, b.ID) })

	return out
}

// CreateServiceRecord opens a repair ticket for a product the customer owns.
func (c *CRM) CreateServiceRecord(customerID, serial, issue string) (ServiceRecord, error) {
	if _, err := c.purchase(customerID, serial); err != nil {
		return ServiceRecord{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().UTC()

	r := ServiceRecord{
		ID:         "SR-" + ulid.MustNew(ulid.Timestamp(now), c.entropy).String(),
		CustomerID: customerID,
		Serial:     serial,
		Issue:      issue,
		Status:     StatusOpen,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	c.records[r.ID] = r

	return r, nil
}

// UpdateServiceRecord changes the issue description and/or status. Empty
// values leave the field unchanged.
func (c *CRM) UpdateServiceRecord(customerID, id, issue, status string) (ServiceRecord, error) {
	if status != "" && !validStatus(status) {
		return ServiceRecord{}, fmt.Errorf("invalid status %q", status)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	r, err := c.owned(customerID, id)
	if err != nil {
		return ServiceRecord{}, err
	}

	if issue != "" {
		r.Issue = issue
	}

	if status != "" {
		r.Status = status
	}

	r.UpdatedAt = c.now().UTC()
	c.records[id] = r

	return r, nil
}

// DeleteServiceRecord removes a record of the customer.
func (c *CRM) DeleteServiceRecord(customerID, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.owned(customerID, id); err != nil {
		return err
	}

	delete(c.records, id)

	return nil
}

// owned must be called with the lock held.
func (c *CRM) owned(customerID, id string) (ServiceRecord, error) {
	r, ok := c.records[id]
	if !ok {
		return ServiceRecord{}, fmt.Errorf("service record %s: %w", id, ErrNotFound)
	}

	if r.CustomerID != customerID {
		return ServiceRecord{}, fmt.Errorf("service record %s: %w", id, ErrNotOwner)
	}

	return r, nil
}

func validStatus(s string) bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusResolved, StatusCancelled:
		return true
	default:
		return false
	}
}
