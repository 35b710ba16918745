package core

import (
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Debtor statuses. Values match what is stored by the original data set.
const (
	StatusActive  Status = "Ativo"
	StatusOverdue Status = "Atrasado"
	StatusPaid    Status = "Pago"
	StatusAgreed  Status = "Acordado"
	StatusPending Status = "Pendente"
)

// Debt categories.
const (
	CategoryProduct Category = "Produto"
	CategoryService Category = "Serviço"
	CategoryLoan    Category = "Empréstimo"
	CategoryFee     Category = "Taxa/Juro"
	CategoryRent    Category = "Aluguel"
	CategoryOther   Category = "Outros"

	// CategorySystem marks history entries that are not tied to a debt category.
	CategorySystem Category = "Sistema"
)

// History entry types.
const (
	EntryDebt    EntryType = "Divida"
	EntryPayment EntryType = "Pagamento"
)

// Default texts used when callers leave fields blank.
const (
	InitialDebtDescription = "Dívida Inicial"
	NewDebtDescription     = "Nova Dívida"
	InitialEntryPrefix     = "Cadastro Inicial: "
	PaymentDescription     = "Pagamento Recebido"
	UnknownDebtorName      = "Devedor Desconhecido"

	maxDescriptionLen = 200
	maxNameLen        = 120
)

type (
	Status    string
	Category  string
	EntryType string

	DebtItem struct {
		ID          string   `json:"id"`
		Category    Category `json:"category"`
		Description string   `json:"description"`
		Amount      float64  `json:"amount"`
		Date        Date     `json:"date"`
		DueDate     Date     `json:"dueDate"`
	}

	Debtor struct {
		ID      string     `json:"id"`
		Name    string     `json:"name"`
		Email   string     `json:"email"`
		Phone   string     `json:"phone,omitempty"`
		Avatar  string     `json:"avatar"`
		Debts   []DebtItem `json:"debts"`
		Status  Status     `json:"status"`
		Version int64      `json:"version"`
	}

	// HistoryEntry is one immutable ledger event. DebtorName is a snapshot taken
	// when the event was recorded.
	HistoryEntry struct {
		ID          string    `json:"id"`
		DebtorID    string    `json:"debtorId"`
		DebtorName  string    `json:"debtorName"`
		Type        EntryType `json:"type"`
		Category    Category  `json:"category"`
		Amount      float64   `json:"amount"`
		Date        Date      `json:"date"`
		Description string    `json:"description"`
	}

	// Settings is stored and returned as-is; the core never reads it.
	Settings struct {
		InterestRate   float64 `json:"interest_rate"`
		InstallmentFee float64 `json:"installment_fee"`
	}
)

// DebtCategories lists the categories a debt may carry, in display order.
var DebtCategories = []Category{
	CategoryProduct,
	CategoryService,
	CategoryLoan,
	CategoryFee,
	CategoryRent,
	CategoryOther,
}

// Statuses lists every debtor status.
var Statuses = []Status{StatusActive, StatusOverdue, StatusPaid, StatusAgreed, StatusPending}

func (s Status) IsValid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

func (c Category) IsValid() bool {
	for _, v := range DebtCategories {
		if c == v {
			return true
		}
	}
	return false
}

func (t EntryType) IsValid() bool {
	return t == EntryDebt || t == EntryPayment
}

// Total sums the amounts of every debt of the debtor.
func (d Debtor) Total() float64 {
	var sum float64
	for _, item := range d.Debts {
		sum += item.Amount
	}
	return sum
}

// NextDue returns the earliest due date among the debtor's debts.
func (d Debtor) NextDue() (Date, bool) {
	var next Date
	for i, item := range d.Debts {
		if i == 0 || item.DueDate.IsBefore(next) {
			next = item.DueDate
		}
	}
	return next, len(d.Debts) > 0
}

// Clone returns a copy that does not share the debts slice.
func (d Debtor) Clone() Debtor {
	out := d
	out.Debts = append([]DebtItem(nil), d.Debts...)
	return out
}

// DefaultAvatar builds the generated avatar URI used when none is supplied.
func DefaultAvatar(name string) string {
	return "https://ui-avatars.com/api/?name=" + url.QueryEscape(name) + "&background=random"
}

// NewDebtor assembles a debtor with its first debt and validates it. Status is
// left empty; it is derived by the caller.
func NewDebtor(id, name, email, phone, avatar string, initial DebtItem) (Debtor, error) {
	name = strings.TrimSpace(name)
	if strings.TrimSpace(avatar) == "" {
		avatar = DefaultAvatar(name)
	}
	d := Debtor{
		ID:     id,
		Name:   name,
		Email:  strings.TrimSpace(email),
		Phone:  strings.TrimSpace(phone),
		Avatar: avatar,
		Debts:  []DebtItem{initial},
	}
	if err := d.Validate(); err != nil {
		return Debtor{}, err
	}
	return d, nil
}

func (d Debtor) Validate() error {
	err := validation.ValidateStruct(&d,
		validation.Field(&d.ID, validation.Required),
		validation.Field(&d.Name, validation.Required, validation.Length(1, maxNameLen)),
		validation.Field(&d.Email, validation.Length(0, 254)),
		validation.Field(&d.Debts),
	)
	return wrapValidation(err)
}

func (i DebtItem) Validate() error {
	err := validation.ValidateStruct(&i,
		validation.Field(&i.ID, validation.Required),
		validation.Field(&i.Category, validation.Required, validation.By(func(v interface{}) error {
			if c, _ := v.(Category); !c.IsValid() {
				return validation.NewError("validation_category", "unknown debt category")
			}
			return nil
		})),
		validation.Field(&i.Description, validation.Length(0, maxDescriptionLen)),
		validation.Field(&i.Amount, validation.Required, validation.Min(0.0).Exclusive()),
		validation.Field(&i.Date),
		validation.Field(&i.DueDate),
	)
	return wrapValidation(err)
}

func (e HistoryEntry) Validate() error {
	err := validation.ValidateStruct(&e,
		validation.Field(&e.ID, validation.Required),
		validation.Field(&e.DebtorID, validation.Required),
		validation.Field(&e.Type, validation.Required, validation.In(EntryDebt, EntryPayment)),
		validation.Field(&e.Category, validation.Required, validation.By(func(v interface{}) error {
			if c, _ := v.(Category); c != CategorySystem && !c.IsValid() {
				return validation.NewError("validation_category", "unknown history category")
			}
			return nil
		})),
		validation.Field(&e.Amount, validation.Required, validation.Min(0.0).Exclusive()),
		validation.Field(&e.Date),
		validation.Field(&e.Description, validation.Length(0, maxDescriptionLen+len(InitialEntryPrefix))),
	)
	return wrapValidation(err)
}

func (s Settings) Validate() error {
	err := validation.ValidateStruct(&s,
		validation.Field(&s.InterestRate, validation.Min(0.0)),
		validation.Field(&s.InstallmentFee, validation.Min(0.0)),
	)
	return wrapValidation(err)
}

// Date is a calendar date without time of day, always held at UTC midnight.
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// ParseDate parses an ISO YYYY-MM-DD date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, &ValidationError{Err: validation.Errors{"date": err}}
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return validation.NewError("validation_date_required", "date cannot be empty")
	}
	return nil
}

// String renders the ISO form; the zero date renders as "".
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

// IsBefore reports whether d is a strictly earlier calendar day than o.
func (d Date) IsBefore(o Date) bool {
	return d.String() < o.String()
}

// MonthStart returns the first day of d's month.
func (d Date) MonthStart() Date {
	return NewDate(d.Year(), int(d.Month()), 1)
}

// AddMonths shifts the first day of d's month by n months.
func (d Date) AddMonths(n int) Date {
	return Date{Time: d.MonthStart().Time.AddDate(0, n, 0)}
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
