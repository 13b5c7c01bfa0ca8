package models

import (
	"fmt"
	"net/url"
)

const (
	AccountStatusActive   = "active"
	AccountStatusDisabled = "disabled"
)

type Account struct {
	ID           string `json:"id"`
	DisplayName  string `json:"display_name"`
	RemoteUserID string `json:"remote_user_id"`
	Credential   string `json:"-"`
	Status       string `json:"status"`
}

func (a Account) IsActive() bool { return a.Status == AccountStatusActive }

// ProxyLease is one outbound network identity.
type ProxyLease struct {
	Endpoint string `json:"endpoint"`
	Port     int    `json:"port"`
	Username string `json:"-"`
	Password string `json:"-"`
}

func (l ProxyLease) Address() string {
	return fmt.Sprintf("%s:%d", l.Endpoint, l.Port)
}

func (l ProxyLease) URL() *url.URL {
	u := &url.URL{Scheme: "http", Host: l.Address()}
	if l.Username != "" {
		u.User = url.UserPassword(l.Username, l.Password)
	}
	return u
}
