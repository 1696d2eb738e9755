package users

import (
	"context"
	"fmt"
	"net/url"

	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/alma"
	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/apikeys"
	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/inventory"
	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/request"
)

// Loan is a handle on one loan of a user account.
type Loan struct {
	alma.Resource

	// PrimaryID identifies the borrowing account.
	PrimaryID string
	// LoanID identifies the loan.
	LoanID string
}

// NewLoan creates a handle on an existing loan.
func NewLoan(client *alma.Client, primaryID, loanID, zone string, env apikeys.Environment) *Loan {
	return &Loan{
		Resource:  client.NewResource(zone, env, areaUsers, request.FormatJSON),
		PrimaryID: primaryID,
		LoanID:    loanID,
	}
}

func (l *Loan) path() string {
	return fmt.Sprintf("/users/%s/loans/%s", l.PrimaryID, l.LoanID)
}

// JSON returns the loan payload, or nil before a fetch.
func (l *Loan) JSON() *alma.JSONData {
	data, _ := l.Data().(*alma.JSONData)
	return data
}

// Fetch loads the loan.
func (l *Loan) Fetch(ctx context.Context) error {
	resp, err := l.Get(ctx, l.path(), nil)
	if err != nil {
		l.MarkFailed("fetch", err)
		return err
	}
	data, err := alma.NewJSONDataFromBytes(resp.Body)
	if err != nil {
		l.MarkFailed("fetch", err)
		return err
	}
	l.SetData(data)
	return nil
}

func (l *Loan) stringField(path string) string {
	if l.JSON() == nil {
		return ""
	}
	v, _ := l.JSON().Get(path)
	s, _ := v.(string)
	return s
}

// DueDate returns the current due date of the loan.
func (l *Loan) DueDate() string {
	return l.stringField("due_date")
}

// RenewStatus returns the description of the last renewal attempt, e.g.
// "Renewed Successfully".
func (l *Loan) RenewStatus() string {
	return l.stringField("last_renew_status.desc")
}

// Item returns a handle on the loaned item, built from the IDs carried by
// the loan payload.
func (l *Loan) Item() *inventory.Item {
	return inventory.NewItem(l.Client(),
		l.stringField("mms_id"),
		l.stringField("holding_id"),
		l.stringField("item_id"),
		l.Zone(), l.Env())
}

// Renew renews the loan. Whether the renewal was granted is reported by
// the service inside the refreshed payload, see RenewStatus.
func (l *Loan) Renew(ctx context.Context) *Loan {
	if l.Failed() {
		return l
	}
	params := url.Values{}
	params.Set("op", "renew")
	l.Mutate(ctx, alma.Mutation{
		Op:          alma.OpCreate,
		Type:        "loan",
		ID:          l.LoanID,
		Path:        l.path(),
		Params:      params,
		Body:        []byte("{}"),
		CurrentPath: l.path(),
		Apply:       l.applyJSON,
	})
	return l
}

// ChangeDueDate moves the due date, format YYYY-MM-DD.
func (l *Loan) ChangeDueDate(ctx context.Context, dueDate string) *Loan {
	if l.Failed() {
		return l
	}
	l.Mutate(ctx, alma.Mutation{
		Op:          alma.OpUpdate,
		Type:        "loan",
		ID:          l.LoanID,
		Path:        l.path(),
		Body:        []byte(fmt.Sprintf(`{"due_date": %q}`, dueDate)),
		CurrentPath: l.path(),
		Apply:       l.applyJSON,
	})
	return l
}

// Save snapshots the current payload into the backup store.
func (l *Loan) Save() *Loan {
	if l.Failed() {
		return l
	}
	if err := l.WriteBackup("loan", l.LoanID); err != nil {
		l.MarkFailed("save", err)
	}
	return l
}

func (l *Loan) applyJSON(resp *request.Response) error {
	data, err := alma.NewJSONDataFromBytes(resp.Body)
	if err != nil {
		return err
	}
	l.SetData(data)
	return nil
}
