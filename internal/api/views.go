package api

import (
	"time"

	"github.com/launchindex/indexer/internal/indexer"
)

type projectView struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	MainDomain   string `json:"main_domain,omitempty"`
	CredentialID string `json:"credential_id,omitempty"`
	GSCProperty  string `json:"gsc_property,omitempty"`
	IndexNowKey  string `json:"indexnow_key,omitempty"`
	CreatedAt    string `json:"created_at"`
}

type channelStateView struct {
	Attempts   int    `json:"attempts"`
	LastStatus string `json:"last_status,omitempty"`
}

type addressView struct {
	ID                 string                      `json:"id"`
	ProjectID          string                      `json:"project_id"`
	URL                string                      `json:"url"`
	Domain             string                      `json:"domain"`
	Status             string                      `json:"status"`
	Channels           map[string]channelStateView `json:"channels,omitempty"`
	IsIndexed          bool                        `json:"is_indexed"`
	IndexedAt          *string                     `json:"indexed_at,omitempty"`
	LastCheckedAt      *string                     `json:"last_checked_at,omitempty"`
	CheckCount         int                         `json:"check_count"`
	CheckMethod        string                      `json:"check_method,omitempty"`
	IndexedTitle       string                      `json:"indexed_title,omitempty"`
	IndexedSnippet     string                      `json:"indexed_snippet,omitempty"`
	PreIndexed         bool                        `json:"pre_indexed"`
	VerifiedNotIndexed bool                        `json:"verified_not_indexed"`
	CreditDebited      bool                        `json:"credit_debited"`
	CreditRefunded     bool                        `json:"credit_refunded"`
	SubmittedAt        *string                     `json:"submitted_at,omitempty"`
	CreatedAt          string                      `json:"created_at"`
	UpdatedAt          string                      `json:"updated_at"`
}

type transactionView struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Amount      int    `json:"amount"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	AddressID   string `json:"address_id,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// credentialView never exposes the key material.
type credentialView struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	DailyQuota int    `json:"daily_quota"`
	UsedToday  int    `json:"used_today"`
	Remaining  int    `json:"remaining"`
	IsActive   bool   `json:"is_active"`
	CreatedAt  string `json:"created_at"`
}

func toProjectView(p indexer.Project) projectView {
	return projectView{
		ID:           p.ID,
		UserID:       p.UserID,
		Name:         p.Name,
		Description:  p.Description,
		MainDomain:   p.MainDomain,
		CredentialID: p.CredentialID,
		GSCProperty:  p.GSCProperty,
		IndexNowKey:  p.IndexNowKey,
		CreatedAt:    p.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toAddressView(a indexer.Address) addressView {
	v := addressView{
		ID:                 a.ID,
		ProjectID:          a.ProjectID,
		URL:                a.URL,
		Domain:             a.Domain,
		Status:             string(a.Status),
		IsIndexed:          a.IsIndexed,
		IndexedAt:          timeView(a.IndexedAt),
		LastCheckedAt:      timeView(a.LastCheckedAt),
		CheckCount:         a.CheckCount,
		CheckMethod:        a.CheckMethod,
		IndexedTitle:       a.IndexedTitle,
		IndexedSnippet:     a.IndexedSnippet,
		PreIndexed:         a.PreIndexed,
		VerifiedNotIndexed: a.VerifiedNotIndexed,
		CreditDebited:      a.CreditDebited,
		CreditRefunded:     a.CreditRefunded,
		SubmittedAt:        timeView(a.SubmittedAt),
		CreatedAt:          a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:          a.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if len(a.Channels) > 0 {
		v.Channels = make(map[string]channelStateView, len(a.Channels))
		for name, st := range a.Channels {
			v.Channels[name] = channelStateView{
				Attempts:   st.Attempts,
				LastStatus: string(st.LastStatus),
			}
		}
	}
	return v
}

func toAddressViews(addrs []indexer.Address) []addressView {
	views := make([]addressView, 0, len(addrs))
	for _, a := range addrs {
		views = append(views, toAddressView(a))
	}
	return views
}

func toTransactionView(tx indexer.CreditTransaction) transactionView {
	return transactionView{
		ID:          tx.ID,
		UserID:      tx.UserID,
		Amount:      tx.Amount,
		Type:        string(tx.Type),
		Description: tx.Description,
		AddressID:   tx.AddressID,
		CreatedAt:   tx.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toTransactionViews(txs []indexer.CreditTransaction) []transactionView {
	views := make([]transactionView, 0, len(txs))
	for _, tx := range txs {
		views = append(views, toTransactionView(tx))
	}
	return views
}

func toCredentialView(c indexer.Credential) credentialView {
	return credentialView{
		ID:         c.ID,
		Name:       c.Name,
		Email:      c.Email,
		DailyQuota: c.DailyQuota,
		UsedToday:  c.UsedToday,
		Remaining:  c.Remaining(),
		IsActive:   c.IsActive,
		CreatedAt:  c.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func timeView(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
