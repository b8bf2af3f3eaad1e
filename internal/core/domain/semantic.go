package domain

type DocumentType string

const (
	DocPurchaseInvoice DocumentType = "purchase_invoice"
	DocSalesInvoice    DocumentType = "sales_invoice"
	DocReceipt         DocumentType = "receipt"
	DocBankStatement   DocumentType = "bank_statement"
	DocOther           DocumentType = "other"
)

type Intent string

const (
	IntentPurchase Intent = "purchase"
	IntentSale     Intent = "sale"
	IntentPayment  Intent = "payment"
	IntentOther    Intent = "other"
)

// IntentFor maps every document type to exactly one accounting intent.
// Receipts carry no counterpart or tax breakdown and go to the suspense journal.
func IntentFor(t DocumentType) Intent {
	switch t {
	case DocPurchaseInvoice:
		return IntentPurchase
	case DocSalesInvoice:
		return IntentSale
	case DocBankStatement:
		return IntentPayment
	default:
		return IntentOther
	}
}

type Side string

const (
	SideDebit  Side = "debit"
	SideCredit Side = "credit"
)

type CandidateAccount struct {
	Number     string  `json:"number"`
	Label      string  `json:"label"`
	Role       Side    `json:"role"`
	Confidence float64 `json:"confidence"`
}

type Entity struct {
	Text       string  `json:"text"`
	Kind       string  `json:"kind"`
	Confidence float64 `json:"confidence"`
}

type Relation struct {
	From       string  `json:"from"`
	Kind       string  `json:"kind"`
	To         string  `json:"to"`
	Confidence float64 `json:"confidence"`
}

type Anomaly struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type SemanticAnalysis struct {
	DocumentType      DocumentType       `json:"document_type"`
	Intent            Intent             `json:"intent"`
	CandidateAccounts []CandidateAccount `json:"candidate_accounts"`
	Entities          []Entity           `json:"entities,omitempty"`
	Relations         []Relation         `json:"relations,omitempty"`
	Anomalies         []Anomaly          `json:"anomalies,omitempty"`
	MatchedKeywords   []string           `json:"matched_keywords,omitempty"`
	Language          string             `json:"language"`
	Confidence        float64            `json:"confidence"`
}

// Account returns the first candidate account for the role, if any.
func (a SemanticAnalysis) Account(role Side) (CandidateAccount, bool) {
	for _, acc := range a.CandidateAccounts {
		if acc.Role == role {
			return acc, true
		}
	}
	return CandidateAccount{}, false
}
