package session

import "github.com/scanper/liff-dashboard/internal/model"

// AccountView is exactly one of Account, NotFound or Absent.
type AccountView interface {
	isAccountView()
}

// Account is the backend quota snapshot.
type Account struct {
	Data model.UserData
}

// NotFound means the LINE user has no ScanPer account yet.
type NotFound struct {
	Info model.UserNotFound
}

// Absent means no account view has been loaded.
type Absent struct{}

func (Account) isAccountView()  {}
func (NotFound) isAccountView() {}
func (Absent) isAccountView()   {}
