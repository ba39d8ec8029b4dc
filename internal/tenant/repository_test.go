package tenant

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db), mock
}

func TestGetTenant(t *testing.T) {
	repo, mock := newMockRepo(t)

	rows := sqlmock.NewRows([]string{"id", "name", "external_id", "created_at"}).
		AddRow("t1", "Tenant One", "", time.Now())
	mock.ExpectQuery(`SELECT id, name, .* FROM tenants`).WithArgs("t1").WillReturnRows(rows)

	got, err := repo.Get(context.Background(), "t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Tenant One", got.Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTenantAbsent(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT id, name, .* FROM tenants`).WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "external_id", "created_at"}))

	got, err := repo.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDefaultProvider(t *testing.T) {
	repo, mock := newMockRepo(t)

	rows := sqlmock.NewRows([]string{"id", "tenant_config_id", "host", "port", "secure", "username", "password", "from_email", "is_default"}).
		AddRow("p1", "c1", "smtp.t1.test", 587, false, "mailer", "secret", "noreply@t1.test", true)
	mock.ExpectQuery(`FROM email_providers`).WithArgs("t1").WillReturnRows(rows)

	p, err := repo.DefaultProvider(context.Background(), "t1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "smtp.t1.test", p.Host)
	assert.Equal(t, "noreply@t1.test", p.FromEmail)
}

func TestBrandingDefaultsWhenAbsent(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`FROM brandings`).WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "company_name", "support_email", "logo_url", "primary_color"}))

	b, err := repo.Branding(context.Background(), "t1")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, "t1", b.TenantID)
	assert.Equal(t, DefaultBranding.CompanyName, b.CompanyName)
	assert.Equal(t, DefaultBranding.SupportEmail, b.SupportEmail)
}

func TestPreferenceAbsentIsNil(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`FROM user_preferences`).WithArgs("t1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "user_id", "email", "sms", "push"}))

	p, err := repo.Preference(context.Background(), "t1", "u1")
	require.NoError(t, err)
	assert.Nil(t, p)
}
