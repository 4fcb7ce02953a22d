package authpw

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
	"sketchdeck/api/internal/store"
)

type fakeUserStore struct {
	byEmail    map[string]store.User
	byUsername map[string]store.User
	created    []store.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		byEmail:    map[string]store.User{},
		byUsername: map[string]store.User{},
	}
}

func (f *fakeUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	if user, ok := f.byEmail[email]; ok {
		return user, nil
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeUserStore) FindUserByIdentifier(_ context.Context, identifier string) (store.User, error) {
	if user, ok := f.byEmail[identifier]; ok {
		return user, nil
	}
	if user, ok := f.byUsername[identifier]; ok {
		return user, nil
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeUserStore) CreateUser(_ context.Context, user store.User) error {
	f.byEmail[user.Email] = user
	f.byUsername[user.Username] = user
	f.created = append(f.created, user)
	return nil
}

func TestSignUpAndSignIn(t *testing.T) {
	fs := newFakeUserStore()
	svc := NewService(fs)
	ctx := context.Background()

	user, err := svc.SignUp(ctx, SignUpRequest{
		Email:    "avery@example.com",
		Username: "avery",
		Password: "correct-horse",
	})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if user.DisplayName != "avery" {
		t.Fatalf("expected display name to default to username, got %q", user.DisplayName)
	}
	if user.PasswordHash == "correct-horse" {
		t.Fatal("password stored in plain text")
	}

	signedIn, err := svc.SignIn(ctx, "avery@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("SignIn() by email error = %v", err)
	}
	if signedIn.ID != user.ID {
		t.Fatalf("SignIn() returned user %q, want %q", signedIn.ID, user.ID)
	}

	if _, err := svc.SignIn(ctx, "avery", "correct-horse"); err != nil {
		t.Fatalf("SignIn() by username error = %v", err)
	}
}

func TestSignUpRejectsDuplicates(t *testing.T) {
	fs := newFakeUserStore()
	svc := NewService(fs)
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "a@example.com", Username: "avery", Password: "password1"}); err != nil {
		t.Fatalf("first SignUp() error = %v", err)
	}

	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "a@example.com", Username: "other", Password: "password1"}); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("duplicate email error = %v, want ErrEmailTaken", err)
	}
	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "b@example.com", Username: "avery", Password: "password1"}); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("duplicate username error = %v, want ErrUsernameTaken", err)
	}
}

func TestSignUpValidation(t *testing.T) {
	svc := NewService(newFakeUserStore())
	ctx := context.Background()

	cases := []struct {
		name string
		req  SignUpRequest
	}{
		{name: "missing email", req: SignUpRequest{Username: "avery", Password: "password1"}},
		{name: "bad email", req: SignUpRequest{Email: "nope", Username: "avery", Password: "password1"}},
		{name: "short password", req: SignUpRequest{Email: "a@example.com", Username: "avery", Password: "short"}},
		{name: "bad username", req: SignUpRequest{Email: "a@example.com", Username: "A!", Password: "password1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.SignUp(ctx, tc.req); err == nil {
				t.Fatal("expected SignUp() to fail")
			}
		})
	}
}

func TestSignInWrongPassword(t *testing.T) {
	fs := newFakeUserStore()
	hash, _ := bcrypt.GenerateFromPassword([]byte("right-password"), bcrypt.MinCost)
	fs.byEmail["avery@example.com"] = store.User{ID: "usr_1", Email: "avery@example.com", PasswordHash: string(hash)}

	svc := NewService(fs)
	if _, err := svc.SignIn(context.Background(), "avery@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("SignIn() error = %v, want ErrInvalidCredentials", err)
	}
}

func TestSignInUnknownUser(t *testing.T) {
	svc := NewService(newFakeUserStore())
	if _, err := svc.SignIn(context.Background(), "ghost@example.com", "whatever1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("SignIn() error = %v, want ErrInvalidCredentials", err)
	}
}
