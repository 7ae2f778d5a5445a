package domain

import (
	"strconv"
	"time"
)

type UserType string

const (
	UserTypeBuyer     UserType = "buyer"
	UserTypeSeller    UserType = "seller"
	UserTypeRegulator UserType = "regulator"
)

func (t UserType) Valid() bool {
	switch t {
	case UserTypeBuyer, UserTypeSeller, UserTypeRegulator:
		return true
	}
	return false
}

// User is the local view of an identity managed elsewhere.
type User struct {
	ID          int32     `json:"id"`
	Email       string    `json:"email"`
	CompanyName string    `json:"company_name"`
	UserType    UserType  `json:"user_type"`
	CreatedOn   time.Time `json:"created_on"`
}

func formatInt32(v int32) string {
	return strconv.FormatInt(int64(v), 10)
}
