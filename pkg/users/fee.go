package users

import (
	"context"
	"encoding/json"
)

// Fee is one outstanding fee on a user account.
type Fee struct {
	ID      string  `json:"id"`
	Type    Code    `json:"type"`
	Status  Code    `json:"status"`
	Balance float64 `json:"balance"`
	Comment string  `json:"comment"`
}

// Code is the value/description pair Alma uses for coded fields.
type Code struct {
	Value string `json:"value"`
	Desc  string `json:"desc"`
}

type feeList struct {
	TotalRecordCount int   `json:"total_record_count"`
	Fee              []Fee `json:"fee"`
}

// Fees lists the outstanding fees on the account. An empty account
// returns an empty slice.
func (u *User) Fees(ctx context.Context) ([]Fee, error) {
	resp, err := u.Get(ctx, u.path()+"/fees", nil)
	if err != nil {
		return nil, err
	}
	var list feeList
	if err := json.Unmarshal(resp.Body, &list); err != nil {
		return nil, err
	}
	return list.Fee, nil
}
