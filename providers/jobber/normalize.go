package jobber

import "strings"

const queryGetClient = `query GetClient($id: ID!) {
  client(id: $id) {
    id
    firstName
    lastName
    companyName
    emails { address description primary }
    phones { number description primary }
    billingAddress { street1 street2 city province postalCode country }
    tags { name }
    createdAt
    updatedAt
  }
}`

const queryGetJob = `query GetJob($id: ID!) {
  job(id: $id) {
    id
    title
    description
    jobStatus
    startAt
    endAt
    client { id }
    jobAddress { street1 street2 city province postalCode country }
    jobNumber
    tags { name }
    total { cents currency }
    createdAt
    updatedAt
  }
}`

const queryGetInvoice = `query GetInvoice($id: ID!) {
  invoice(id: $id) {
    id
    invoiceNumber
    invoiceStatus
    client { id }
    job { id }
    subtotal { cents currency }
    taxes { cents currency }
    total { cents currency }
    issuedAt
    dueAt
    sentAt
    paidAt
    lineItems {
      name
      description
      quantity
      unitCost { cents currency }
      total { cents currency }
    }
    createdAt
    updatedAt
  }
}`

type Money struct {
	Cents    int64  `json:"cents"`
	Currency string `json:"currency"`
}

type Email struct {
	Address     string `json:"address"`
	Description string `json:"description"`
	Primary     bool   `json:"primary"`
}

type Phone struct {
	Number      string `json:"number"`
	Description string `json:"description"`
	Primary     bool   `json:"primary"`
}

type Address struct {
	Street1    string `json:"street1"`
	Street2    string `json:"street2"`
	City       string `json:"city"`
	Province   string `json:"province"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type Tag struct {
	Name string `json:"name"`
}

type Ref struct {
	ID string `json:"id"`
}

type ClientDetail struct {
	ID             string   `json:"id"`
	FirstName      string   `json:"firstName"`
	LastName       string   `json:"lastName"`
	CompanyName    string   `json:"companyName"`
	Emails         []Email  `json:"emails"`
	Phones         []Phone  `json:"phones"`
	BillingAddress *Address `json:"billingAddress"`
	Tags           []Tag    `json:"tags"`
	CreatedAt      string   `json:"createdAt"`
	UpdatedAt      string   `json:"updatedAt"`
}

type JobDetail struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	JobStatus   string   `json:"jobStatus"`
	StartAt     string   `json:"startAt"`
	EndAt       string   `json:"endAt"`
	Client      Ref      `json:"client"`
	JobAddress  *Address `json:"jobAddress"`
	JobNumber   int64    `json:"jobNumber"`
	Tags        []Tag    `json:"tags"`
	Total       *Money   `json:"total"`
	CreatedAt   string   `json:"createdAt"`
	UpdatedAt   string   `json:"updatedAt"`
}

type LineItem struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitCost    *Money  `json:"unitCost"`
	Total       *Money  `json:"total"`
}

type InvoiceDetail struct {
	ID            string     `json:"id"`
	InvoiceNumber string     `json:"invoiceNumber"`
	InvoiceStatus string     `json:"invoiceStatus"`
	Client        Ref        `json:"client"`
	Job           Ref        `json:"job"`
	Subtotal      *Money     `json:"subtotal"`
	Taxes         *Money     `json:"taxes"`
	Total         *Money     `json:"total"`
	IssuedAt      string     `json:"issuedAt"`
	DueAt         string     `json:"dueAt"`
	SentAt        string     `json:"sentAt"`
	PaidAt        string     `json:"paidAt"`
	LineItems     []LineItem `json:"lineItems"`
	CreatedAt     string     `json:"createdAt"`
	UpdatedAt     string     `json:"updatedAt"`
}

// Fields flattens the GraphQL record into the field map stored on the
// entity. Primary email and phone win; non-primary contacts are not
// kept. Money stays in integer cents.
func (d ClientDetail) Fields() map[string]any {
	fields := map[string]any{
		"first_name":   d.FirstName,
		"last_name":    d.LastName,
		"company_name": d.CompanyName,
		"name":         d.DisplayName(),
		"tags":         tagNames(d.Tags),
	}
	if email, ok := primaryEmail(d.Emails); ok {
		fields["email"] = email
	}
	if phone, ok := primaryPhone(d.Phones); ok {
		fields["phone"] = phone
	}
	addAddressFields(fields, "", d.BillingAddress)
	return fields
}

// DisplayName prefers the company name and falls back to the person.
func (d ClientDetail) DisplayName() string {
	if name := strings.TrimSpace(d.CompanyName); name != "" {
		return name
	}
	return strings.TrimSpace(strings.TrimSpace(d.FirstName) + " " + strings.TrimSpace(d.LastName))
}

func (d JobDetail) Fields() map[string]any {
	fields := map[string]any{
		"title":       d.Title,
		"description": d.Description,
		"status":      d.JobStatus,
		"start_at":    d.StartAt,
		"end_at":      d.EndAt,
		"job_number":  d.JobNumber,
		"tags":        tagNames(d.Tags),
		"client_id":   d.Client.ID,
	}
	addMoneyFields(fields, "total", d.Total)
	addAddressFields(fields, "job_", d.JobAddress)
	return fields
}

func (d JobDetail) ClientID() string {
	return strings.TrimSpace(d.Client.ID)
}

func (d InvoiceDetail) Fields() map[string]any {
	fields := map[string]any{
		"invoice_number": d.InvoiceNumber,
		"status":         d.InvoiceStatus,
		"issued_at":      d.IssuedAt,
		"due_at":         d.DueAt,
		"sent_at":        d.SentAt,
		"paid_at":        d.PaidAt,
		"client_id":      d.Client.ID,
		"job_id":         d.Job.ID,
	}
	addMoneyFields(fields, "subtotal", d.Subtotal)
	addMoneyFields(fields, "tax", d.Taxes)
	addMoneyFields(fields, "total", d.Total)
	if len(d.LineItems) > 0 {
		items := make([]map[string]any, 0, len(d.LineItems))
		for _, item := range d.LineItems {
			entry := map[string]any{
				"name":        item.Name,
				"description": item.Description,
				"quantity":    item.Quantity,
			}
			addMoneyFields(entry, "unit_cost", item.UnitCost)
			addMoneyFields(entry, "total", item.Total)
			items = append(items, entry)
		}
		fields["line_items"] = items
	}
	return fields
}

func (d InvoiceDetail) ClientID() string {
	return strings.TrimSpace(d.Client.ID)
}

func (d InvoiceDetail) JobID() string {
	return strings.TrimSpace(d.Job.ID)
}

func primaryEmail(emails []Email) (string, bool) {
	for _, email := range emails {
		if email.Primary && strings.TrimSpace(email.Address) != "" {
			return strings.TrimSpace(email.Address), true
		}
	}
	for _, email := range emails {
		if strings.TrimSpace(email.Address) != "" {
			return strings.TrimSpace(email.Address), true
		}
	}
	return "", false
}

func primaryPhone(phones []Phone) (string, bool) {
	for _, phone := range phones {
		if phone.Primary && strings.TrimSpace(phone.Number) != "" {
			return strings.TrimSpace(phone.Number), true
		}
	}
	for _, phone := range phones {
		if strings.TrimSpace(phone.Number) != "" {
			return strings.TrimSpace(phone.Number), true
		}
	}
	return "", false
}

func tagNames(tags []Tag) []string {
	names := make([]string, 0, len(tags))
	for _, tag := range tags {
		if name := strings.TrimSpace(tag.Name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func addMoneyFields(fields map[string]any, prefix string, money *Money) {
	if money == nil {
		return
	}
	fields[prefix+"_cents"] = money.Cents
	if currency := strings.TrimSpace(money.Currency); currency != "" {
		fields["currency"] = currency
	}
}

func addAddressFields(fields map[string]any, prefix string, address *Address) {
	if address == nil {
		return
	}
	set := func(key, value string) {
		if value = strings.TrimSpace(value); value != "" {
			fields[prefix+key] = value
		}
	}
	set("address_line1", address.Street1)
	set("address_line2", address.Street2)
	set("city", address.City)
	set("province", address.Province)
	set("postal_code", address.PostalCode)
	set("country", address.Country)
}
