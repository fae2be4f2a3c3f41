package accounts

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// strongPassword clears the zxcvbn gate without sitting in any wordlist
const strongPassword = "mZ8#kQ3$vN7!xW2p"

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	require.NoError(t, err)

	// shared-cache sqlite wants a single connection or writes race
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })

	require.NoError(t, CreateSchema(context.Background(), db))

	return db
}

func newTestRepo(t *testing.T) (RepositoryManager, *bun.DB) {
	t.Helper()

	db := newTestDB(t)
	repo := NewRepositoryManager(db)
	require.NoError(t, repo.Validate())

	return repo, db
}

func createTestUser(t *testing.T, repo RepositoryManager, mutate ...func(*User)) *User {
	t.Helper()

	hash, err := HashPassword(strongPassword)
	require.NoError(t, err)

	record := &User{
		Email:        fmt.Sprintf("%s@example.com", uuid.NewString()),
		PasswordHash: sql.NullString{String: hash, Valid: true},
		Role:         RoleUser,
		Active:       true,
	}

	for _, fn := range mutate {
		fn(record)
	}

	created, err := repo.Users().Create(context.Background(), record)
	require.NoError(t, err)

	return created
}

// insertVerification writes a token row directly so tests control
// CreatedAt, which is how expiry scenarios are staged.
func insertVerification(t *testing.T, db *bun.DB, userID uuid.UUID, token, email, passwordHash string, createdAt time.Time) {
	t.Helper()

	record := &Verification{
		ID:           uuid.New(),
		UserID:       userID,
		Token:        token,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    createdAt,
	}

	_, err := db.NewInsert().Model(record).Exec(context.Background())
	require.NoError(t, err)
}

func fetchUser(t *testing.T, repo RepositoryManager, id uuid.UUID) *User {
	t.Helper()

	user, err := repo.Users().GetByIdentifier(context.Background(), id.String())
	require.NoError(t, err)

	return user
}

func countVerifications(t *testing.T, db *bun.DB) int {
	t.Helper()

	count, err := db.NewSelect().Model((*Verification)(nil)).Count(context.Background())
	require.NoError(t, err)

	return count
}

// recordingLogger captures log lines for assertions
type recordingLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *recordingLogger) record(level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, level+" "+fmt.Sprintf(format, args...))
}

func (l *recordingLogger) Debug(format string, args ...any) { l.record("DBG", format, args...) }
func (l *recordingLogger) Info(format string, args ...any)  { l.record("INF", format, args...) }
func (l *recordingLogger) Warn(format string, args ...any)  { l.record("WRN", format, args...) }
func (l *recordingLogger) Error(format string, args ...any) { l.record("ERR", format, args...) }

func (l *recordingLogger) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.entries))
	copy(out, l.entries)
	return out
}

// recorderMailer captures outgoing mail; deliveries happen off the
// request goroutine, so reads go through waitForMail.
type recorderMailer struct {
	mu   sync.Mutex
	sent []MailMessage
}

func (m *recorderMailer) Send(msg MailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recorderMailer) messages() []MailMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MailMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *recorderMailer) waitForMail(t *testing.T, want int) []MailMessage {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := m.messages(); len(msgs) >= want {
			return msgs
		}
		time.Sleep(10 * time.Millisecond)
	}

	msgs := m.messages()
	require.GreaterOrEqual(t, len(msgs), want, "timed out waiting for mail")
	return msgs
}
