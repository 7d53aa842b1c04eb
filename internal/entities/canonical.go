package entities

import (
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrAuditImmutable is returned when something tries to change a written audit row.
var ErrAuditImmutable = errors.New("canonical link audit rows are write-once")

type MatchStatus string

const (
	MatchStatusVerified    MatchStatus = "verified"
	MatchStatusConfirmed   MatchStatus = "confirmed"
	MatchStatusProvisional MatchStatus = "provisional"
)

// Rank orders statuses so upgrades can be checked; a status never moves to a lower rank.
func (s MatchStatus) Rank() int {
	switch s {
	case MatchStatusVerified:
		return 2
	case MatchStatusConfirmed:
		return 1
	case MatchStatusProvisional:
		return 0
	}
	return -1
}

type MatchSource string

const (
	MatchSourceAuto          MatchSource = "auto"
	MatchSourceUserConfirmed MatchSource = "user-confirmed"
	MatchSourceProvisional   MatchSource = "provisional"
)

// LinkDecision is the band (or shortcut) a resolution attempt ended in.
type LinkDecision string

const (
	DecisionVerified      LinkDecision = "verified"
	DecisionConfirm       LinkDecision = "confirm"
	DecisionProvisional   LinkDecision = "provisional"
	DecisionAlias         LinkDecision = "alias"
	DecisionUserConfirmed LinkDecision = "user_confirmed"
)

// CanonicalBook is the resolved bibliographic identity shared by every import
// that references the same title. Rows are never deleted.
type CanonicalBook struct {
	ID                   string      `gorm:"primaryKey;size:36" json:"canonical_book_id"`
	TitleCanonical       string      `gorm:"size:512" json:"title_canonical"`
	TitleNormalized      string      `gorm:"uniqueIndex;size:512" json:"title_normalized"`
	Authors              string      `gorm:"type:text" json:"-"` // JSON array
	ExternalCatalogID    *string     `gorm:"uniqueIndex;size:128" json:"external_catalog_id,omitempty"`
	ISBN13               *string     `gorm:"size:13" json:"isbn13,omitempty"`
	CoverURL             *string     `gorm:"size:2048" json:"cover_url,omitempty"`
	MatchStatus          MatchStatus `gorm:"index;size:20" json:"match_status"`
	MatchSource          MatchSource `gorm:"size:20" json:"match_source"`
	AwaitingConfirmation bool        `gorm:"index;default:false" json:"awaiting_confirmation"`
	CreatedAt            time.Time   `json:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at"`
}

func (CanonicalBook) TableName() string {
	return "canonical_books"
}

// AuthorList decodes the canonical author names.
func (c *CanonicalBook) AuthorList() []string {
	if c.Authors == "" {
		return nil
	}
	var authors []string
	if err := json.Unmarshal([]byte(c.Authors), &authors); err != nil {
		return nil
	}
	return authors
}

func (c *CanonicalBook) SetAuthors(authors []string) {
	if len(authors) == 0 {
		c.Authors = ""
		return
	}
	data, _ := json.Marshal(authors)
	c.Authors = string(data)
}

func (c CanonicalBook) MarshalJSON() ([]byte, error) {
	type plain CanonicalBook
	return json.Marshal(struct {
		plain
		AuthorsCanonical []string `json:"authors_canonical"`
	}{plain(c), c.AuthorList()})
}

// CanonicalLinkAudit records one matching decision. Rows are append-only.
type CanonicalLinkAudit struct {
	ID                uint         `gorm:"primaryKey" json:"id"`
	InputTitle        string       `gorm:"size:512" json:"input_title"`
	InputAuthor       string       `gorm:"size:256" json:"input_author"`
	NormalizedKey     string       `gorm:"index;size:512" json:"normalized_key"`
	ProviderAvailable bool         `json:"provider_available"`
	ProviderError     string       `gorm:"size:500" json:"provider_error,omitempty"`
	CandidateID       string       `gorm:"size:128" json:"candidate_id,omitempty"`
	CandidateTitle    string       `gorm:"size:512" json:"candidate_title,omitempty"`
	CandidateAuthors  string       `gorm:"type:text" json:"candidate_authors,omitempty"` // JSON array
	CandidateISBN13   string       `gorm:"size:13" json:"candidate_isbn13,omitempty"`
	CandidateCoverURL string       `gorm:"size:2048" json:"candidate_cover_url,omitempty"`
	Confidence        float64      `json:"confidence"`
	Decision          LinkDecision `gorm:"index;size:20" json:"decision"`
	CanonicalBookID   string       `gorm:"index;size:36" json:"canonical_book_id"`
	CreatedAt         time.Time    `gorm:"index" json:"created_at"`
}

func (CanonicalLinkAudit) TableName() string {
	return "canonical_link_audits"
}

func (a *CanonicalLinkAudit) BeforeUpdate(tx *gorm.DB) error {
	return ErrAuditImmutable
}

func (a *CanonicalLinkAudit) BeforeDelete(tx *gorm.DB) error {
	return ErrAuditImmutable
}

func (a *CanonicalLinkAudit) CandidateAuthorList() []string {
	if a.CandidateAuthors == "" {
		return nil
	}
	var authors []string
	if err := json.Unmarshal([]byte(a.CandidateAuthors), &authors); err != nil {
		return nil
	}
	return authors
}

// BookAlias maps a normalized title variant to a canonical identity.
type BookAlias struct {
	ID              uint        `gorm:"primaryKey" json:"id"`
	NormalizedKey   string      `gorm:"uniqueIndex;size:512" json:"normalized_key"`
	CanonicalBookID string      `gorm:"index;size:36" json:"canonical_book_id"`
	Source          MatchSource `gorm:"size:20" json:"source"`
	CreatedAt       time.Time   `json:"created_at"`
}

func (BookAlias) TableName() string {
	return "book_aliases"
}
