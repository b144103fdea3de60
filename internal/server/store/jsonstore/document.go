package jsonstore

import (
	"sort"
	"strings"

	"github.com/dmitrijs2005/gophid/internal/server/models"
)

// document is the on-disk layout. Timestamps are unix milliseconds.
type document struct {
	Users        []jsonUser            `json:"users"`
	Staged       map[string]jsonStaged `json:"staged"`
	StagedEmails map[string]string     `json:"stagedEmails"`
	IDP          map[string]int64      `json:"idp"`
	NextUserID   int64                 `json:"nextUserID"`
}

type jsonUser struct {
	ID                int64                `json:"id"`
	Password          string               `json:"password,omitempty"`
	LastPasswordReset int64                `json:"lastPasswordReset"`
	FailedAuthTries   int                  `json:"failedAuthTries"`
	Emails            map[string]jsonEmail `json:"emails"`
}

type jsonEmail struct {
	Type     models.EmailType `json:"type"`
	Verified bool             `json:"verified"`
}

type jsonStaged struct {
	Kind         models.StagedKind `json:"kind"`
	Email        string            `json:"email"`
	ExistingUser int64             `json:"existing_user,omitempty"`
	Password     string            `json:"passwd,omitempty"`
	EmailType    models.EmailType  `json:"emailType"`
	When         int64             `json:"when"`
}

func newDocument() *document {
	d := &document{}
	d.normalize()
	return d
}

// normalize fills maps a hand-edited or older file may lack.
func (d *document) normalize() {
	if d.Staged == nil {
		d.Staged = map[string]jsonStaged{}
	}
	if d.StagedEmails == nil {
		d.StagedEmails = map[string]string{}
	}
	if d.IDP == nil {
		d.IDP = map[string]int64{}
	}
	for i := range d.Users {
		if d.Users[i].Emails == nil {
			d.Users[i].Emails = map[string]jsonEmail{}
		}
	}
}

func (d *document) user(uid int64) *jsonUser {
	for i := range d.Users {
		if d.Users[i].ID == uid {
			return &d.Users[i]
		}
	}
	return nil
}

func (d *document) owner(email string) *jsonUser {
	for i := range d.Users {
		if _, ok := d.Users[i].Emails[email]; ok {
			return &d.Users[i]
		}
	}
	return nil
}

func (d *document) email(address string) (jsonEmail, bool) {
	if u := d.owner(address); u != nil {
		return u.Emails[address], true
	}
	return jsonEmail{}, false
}

// canonical finds the stored casing of address.
func (d *document) canonical(address string) (string, bool) {
	for _, u := range d.Users {
		for stored := range u.Emails {
			if strings.EqualFold(stored, address) {
				return stored, true
			}
		}
	}
	return "", false
}

func (d *document) detach(address string) {
	if u := d.owner(address); u != nil {
		delete(u.Emails, address)
	}
}

func (d *document) unstage(address string) {
	if secret, ok := d.StagedEmails[address]; ok {
		delete(d.StagedEmails, address)
		delete(d.Staged, secret)
	}
}

func (d *document) stage(secret string, row jsonStaged) {
	d.unstage(row.Email)
	d.Staged[secret] = row
	d.StagedEmails[row.Email] = secret
}

// take removes a staged row, keeping both indexes in step.
func (d *document) take(secret string) {
	if row, ok := d.Staged[secret]; ok {
		delete(d.Staged, secret)
		if d.StagedEmails[row.Email] == secret {
			delete(d.StagedEmails, row.Email)
		}
	}
}

func (d *document) addUser(u jsonUser) int64 {
	next := d.NextUserID
	for _, existing := range d.Users {
		if existing.ID >= next {
			next = existing.ID + 1
		}
	}
	if next < 1 {
		next = 1
	}
	u.ID = next
	if u.Emails == nil {
		u.Emails = map[string]jsonEmail{}
	}
	d.Users = append(d.Users, u)
	d.NextUserID = next + 1
	return next
}

func (d *document) removeUser(uid int64) {
	for i := range d.Users {
		if d.Users[i].ID == uid {
			d.Users = append(d.Users[:i], d.Users[i+1:]...)
			return
		}
	}
}

func (u *jsonUser) addresses() []string {
	out := make([]string, 0, len(u.Emails))
	for a := range u.Emails {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// bumpReset moves lastPasswordReset forward, strictly.
func (u *jsonUser) bumpReset(nowMillis int64) {
	if nowMillis <= u.LastPasswordReset {
		nowMillis = u.LastPasswordReset + 1
	}
	u.LastPasswordReset = nowMillis
}
