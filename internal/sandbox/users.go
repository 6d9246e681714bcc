package sandbox

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"finpay-client/internal/api"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
)

// User is a sandbox tenant account.
type User struct {
	ID           string
	Name         string
	Email        string
	Phone        string
	Username     string
	Role         string
	PasswordHash string
	KYCStatus    string // "", "Pending", "Approved"
	ProfileImage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Profile converts the account into the wire-format user record.
func (u *User) Profile() *api.UserProfile {
	return &api.UserProfile{
		ID:           u.ID,
		FullName:     u.Name,
		Email:        u.Email,
		Phone:        u.Phone,
		Username:     u.Username,
		ProfileImage: u.ProfileImage,
		CreatedAt:    u.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    u.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// UserDirectory is the in-memory account store for the sandbox.
type UserDirectory struct {
	mu    sync.RWMutex
	users map[string]*User // id -> user
}

func NewUserDirectory() *UserDirectory {
	return &UserDirectory{users: map[string]*User{}}
}

// SeedDemoUser registers the well-known development account.
func (d *UserDirectory) SeedDemoUser() *User {
	user := &User{
		ID:           uuid.New().String(),
		Name:         "Demo Merchant",
		Email:        "demo@finpay.local",
		Phone:        "9999900000",
		Username:     "demo",
		Role:         "retailer",
		PasswordHash: HashPassword("demo1234"),
		KYCStatus:    "Approved",
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	d.mu.Lock()
	d.users[user.ID] = user
	d.mu.Unlock()
	return user
}

// FindByLogin matches on email, phone, or username.
func (d *UserDirectory) FindByLogin(login string) (*User, error) {
	login = strings.TrimSpace(strings.ToLower(login))
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, u := range d.users {
		if strings.ToLower(u.Email) == login || u.Phone == login || strings.ToLower(u.Username) == login {
			return u, nil
		}
	}
	return nil, ErrUserNotFound
}

// FindByID looks an account up by its ID.
func (d *UserDirectory) FindByID(id string) (*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// Create registers a new account, rejecting duplicate email or phone.
func (d *UserDirectory) Create(name, email, phone, role, password string) (*User, error) {
	if _, err := d.FindByLogin(email); err == nil {
		return nil, ErrUserExists
	}
	if _, err := d.FindByLogin(phone); err == nil {
		return nil, ErrUserExists
	}

	user := &User{
		ID:           uuid.New().String(),
		Name:         name,
		Email:        email,
		Phone:        phone,
		Role:         role,
		PasswordHash: HashPassword(password),
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	d.mu.Lock()
	d.users[user.ID] = user
	d.mu.Unlock()
	return user, nil
}

// UpdatePassword replaces the account password.
func (d *UserDirectory) UpdatePassword(id, password string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = HashPassword(password)
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// HashPassword hashes a sandbox password. Not production strength on purpose;
// the sandbox holds no real accounts.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// CheckPassword compares in constant time.
func CheckPassword(hash, password string) bool {
	return subtle.ConstantTimeCompare([]byte(hash), []byte(HashPassword(password))) == 1
}
