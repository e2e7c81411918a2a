package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"go.uber.org/zap"

	"github.com/volkb79-2/netcup-api-filter-sub002/internal/model"
)

// SQLiteStore is the production Store implementation, backed by a single
// embedded database file (modernc.org/sqlite, pure Go, no cgo). Every
// write that mutates authorization state also inserts an audit_records row
// in the same transaction, following this codebase's existing
// write-plus-history-plus-changelog pattern generalized to one audit insert
// per write (spec §4.1).
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewSQLiteStore opens dbPath, applies pending migrations, and returns a
// ready Store. The process must refuse to start if this returns an error
// (spec §6, exit code 2/3).
func NewSQLiteStore(dbPath string, logger *zap.SugaredLogger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows only one writer; keep a single connection so
	// "serializable within a single write" holds without extra locking.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func jsonList(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func parseList(s string) []string {
	if s == "" {
		return nil
	}
	var v []string
	_ = json.Unmarshal([]byte(s), &v)
	return v
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func scanNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, fmt.Errorf("parse time %q: %w", s.String, err)
	}
	return &t, nil
}

func (s *SQLiteStore) insertAuditTx(ctx context.Context, tx *sql.Tx, operator, operation, domain string, outcome model.Outcome) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit_records (timestamp, token_prefix, account_id, source_ip, operation, domain, record_details, outcome, error_kind, latency_ms)
		VALUES (?, '', NULL, '', ?, ?, ?, ?, '', 0)`,
		time.Now().UTC().Format(time.RFC3339Nano), operation, domain, operator, outcome)
	return err
}

// ---- Accounts ----

func (s *SQLiteStore) CreateAccount(ctx context.Context, a *model.Account) (*model.Account, error) {
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (username, email, password_hash, must_change_password, is_admin, is_active, totp_secret, totp_enabled, recovery_code_hashes, failed_login_count, locked_until, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, '', 0, '[]', 0, NULL, ?, ?)`,
		a.Username, a.Email, a.PasswordHash, a.MustChangePassword, a.IsAdmin, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("insert account: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	if err := s.insertAuditTx(ctx, tx, "system", "account.create", a.Username, model.OutcomeSuccess); err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	a.ID = id
	a.IsActive = true
	a.CreatedAt, a.UpdatedAt = now, now
	return a, nil
}

func (s *SQLiteStore) scanAccount(row interface{ Scan(...any) error }) (*model.Account, error) {
	var a model.Account
	var locked, createdAt, updatedAt sql.NullString
	var recoveryCodes string
	if err := row.Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &a.MustChangePassword, &a.IsAdmin, &a.IsActive, &a.TOTPSecret, &a.TOTPEnabled, &recoveryCodes, &a.FailedLoginCount, &locked, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	a.RecoveryCodeHashes = parseList(recoveryCodes)
	lu, err := scanNullableTime(locked)
	if err != nil {
		return nil, err
	}
	a.LockedUntil = lu
	if createdAt.Valid {
		a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt.String)
	}
	if updatedAt.Valid {
		a.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt.String)
	}
	return &a, nil
}

const accountColumns = `id, username, email, password_hash, must_change_password, is_admin, is_active, totp_secret, totp_enabled, recovery_code_hashes, failed_login_count, locked_until, created_at, updated_at`

func (s *SQLiteStore) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := s.scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) GetAccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE username = ?`, username)
	a, err := s.scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account by username: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]*model.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()
	var out []*model.Account
	for rows.Next() {
		a, err := s.scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateAccount(ctx context.Context, a *model.Account) error {
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, `
		UPDATE accounts SET email=?, password_hash=?, must_change_password=?, is_admin=?, is_active=?,
			totp_secret=?, totp_enabled=?, recovery_code_hashes=?, updated_at=? WHERE id=?`,
		a.Email, a.PasswordHash, a.MustChangePassword, a.IsAdmin, a.IsActive,
		a.TOTPSecret, a.TOTPEnabled, jsonList(a.RecoveryCodeHashes), now.Format(time.RFC3339Nano), a.ID)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if err := s.insertAuditTx(ctx, tx, "system", "account.update", a.Username, model.OutcomeSuccess); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) DeleteAccount(ctx context.Context, id int64, operator string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	if err := s.insertAuditTx(ctx, tx, operator, "account.delete", "", model.OutcomeSuccess); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) CountAdmins(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts WHERE is_admin=1 AND is_active=1`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count admins: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) RecordLoginFailure(ctx context.Context, accountID int64, lockUntil *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET failed_login_count = failed_login_count + 1, locked_until = ?, updated_at = ?
		WHERE id = ?`, nullableTime(lockUntil), time.Now().UTC().Format(time.RFC3339Nano), accountID)
	if err != nil {
		return fmt.Errorf("record login failure: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecordLoginSuccess(ctx context.Context, accountID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET failed_login_count = 0, locked_until = NULL, updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), accountID)
	if err != nil {
		return fmt.Errorf("record login success: %w", err)
	}
	return nil
}

// ---- Realms ----

func (s *SQLiteStore) CreateRealm(ctx context.Context, r *model.Realm, operator string) (*model.Realm, error) {
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO realms (account_id, realm_value, domain_root_id, user_backend_id, user_domain, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.AccountID, r.RealmValue, r.DomainRootID, r.UserBackendID, r.UserDomain, now.Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("insert realm: %w", err)
	}
	id, _ := res.LastInsertId()
	if err := s.insertAuditTx(ctx, tx, operator, "realm.create", r.RealmValue, model.OutcomeSuccess); err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	r.ID = id
	r.CreatedAt = now
	return r, nil
}

// ClaimPlatformRealm is identical to CreateRealm but documents the claim
// semantics explicitly (spec §4.4: first committer wins via the unique
// index on (domain_root_id, realm_value)).
func (s *SQLiteStore) ClaimPlatformRealm(ctx context.Context, domainRootID int64, realmValue string, r *model.Realm, operator string) (*model.Realm, error) {
	r.DomainRootID = &domainRootID
	r.RealmValue = realmValue
	return s.CreateRealm(ctx, r, operator)
}

func (s *SQLiteStore) scanRealm(row interface{ Scan(...any) error }) (*model.Realm, error) {
	var r model.Realm
	var createdAt string
	if err := row.Scan(&r.ID, &r.AccountID, &r.RealmValue, &r.DomainRootID, &r.UserBackendID, &r.UserDomain, &createdAt); err != nil {
		return nil, err
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &r, nil
}

const realmColumns = `id, account_id, realm_value, domain_root_id, user_backend_id, user_domain, created_at`

func (s *SQLiteStore) GetRealm(ctx context.Context, id int64) (*model.Realm, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+realmColumns+` FROM realms WHERE id=?`, id)
	r, err := s.scanRealm(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get realm: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) ListRealmsForAccount(ctx context.Context, accountID int64) ([]*model.Realm, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+realmColumns+` FROM realms WHERE account_id=? ORDER BY id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list realms: %w", err)
	}
	defer rows.Close()
	var out []*model.Realm
	for rows.Next() {
		r, err := s.scanRealm(rows)
		if err != nil {
			return nil, fmt.Errorf("scan realm: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteRealm(ctx context.Context, id int64, operator string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM tokens WHERE realm_id=?`, id); err != nil {
		return fmt.Errorf("cascade delete tokens: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM realms WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete realm: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := s.insertAuditTx(ctx, tx, operator, "realm.delete", "", model.OutcomeSuccess); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	return tx.Commit()
}

// ---- Tokens ----

func (s *SQLiteStore) CreateToken(ctx context.Context, t *model.Token, operator string) (*model.Token, error) {
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO tokens (token_prefix, token_hash, realm_id, record_types, operations, allowed_origins, expires_at, is_active, email_on_use, last_used_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, NULL, ?)`,
		t.TokenPrefix, t.TokenHash, t.RealmID, jsonList(t.RecordTypes), jsonList(t.Operations), jsonList(t.AllowedOrigins),
		nullableTime(t.ExpiresAt), t.EmailOnUse, now.Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("insert token: %w", err)
	}
	id, _ := res.LastInsertId()
	if err := s.insertAuditTx(ctx, tx, operator, "token.create", "", model.OutcomeSuccess); err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	t.ID = id
	t.IsActive = true
	t.CreatedAt = now
	return t, nil
}

func (s *SQLiteStore) scanToken(row interface{ Scan(...any) error }) (*model.Token, error) {
	var t model.Token
	var recordTypes, operations, origins string
	var expiresAt, lastUsedAt sql.NullString
	var createdAt string
	if err := row.Scan(&t.ID, &t.TokenPrefix, &t.TokenHash, &t.RealmID, &recordTypes, &operations, &origins, &expiresAt, &t.IsActive, &t.EmailOnUse, &lastUsedAt, &createdAt); err != nil {
		return nil, err
	}
	t.RecordTypes = parseList(recordTypes)
	t.Operations = parseList(operations)
	t.AllowedOrigins = parseList(origins)
	var err error
	if t.ExpiresAt, err = scanNullableTime(expiresAt); err != nil {
		return nil, err
	}
	if t.LastUsedAt, err = scanNullableTime(lastUsedAt); err != nil {
		return nil, err
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &t, nil
}

const tokenColumns = `id, token_prefix, token_hash, realm_id, record_types, operations, allowed_origins, expires_at, is_active, email_on_use, last_used_at, created_at`

func (s *SQLiteStore) GetTokenByPrefix(ctx context.Context, prefix string) (*model.Token, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE token_prefix=?`, prefix)
	t, err := s.scanToken(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) ListTokensForRealm(ctx context.Context, realmID int64) ([]*model.Token, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE realm_id=? ORDER BY id`, realmID)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()
	var out []*model.Token
	for rows.Next() {
		t, err := s.scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateToken(ctx context.Context, t *model.Token, operator string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, `
		UPDATE tokens SET record_types=?, operations=?, allowed_origins=?, expires_at=?, is_active=?, email_on_use=? WHERE id=?`,
		jsonList(t.RecordTypes), jsonList(t.Operations), jsonList(t.AllowedOrigins), nullableTime(t.ExpiresAt), t.IsActive, t.EmailOnUse, t.ID)
	if err != nil {
		return fmt.Errorf("update token: %w", err)
	}
	if err := s.insertAuditTx(ctx, tx, operator, "token.update", "", model.OutcomeSuccess); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) DeleteToken(ctx context.Context, id int64, operator string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `DELETE FROM tokens WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := s.insertAuditTx(ctx, tx, operator, "token.delete", "", model.OutcomeSuccess); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) TouchTokenLastUsed(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tokens SET last_used_at=? WHERE id=?`, at.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("touch token: %w", err)
	}
	return nil
}

// ---- Providers ----

func (s *SQLiteStore) UpsertProvider(ctx context.Context, p *model.BackendProvider) error {
	schema := "{}"
	if len(p.ConfigSchema) > 0 {
		schema = string(p.ConfigSchema)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO providers (provider_code, display_name, config_schema, zone_list, zone_create, dnssec, record_types, is_enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider_code) DO UPDATE SET display_name=excluded.display_name, config_schema=excluded.config_schema,
			zone_list=excluded.zone_list, zone_create=excluded.zone_create, dnssec=excluded.dnssec,
			record_types=excluded.record_types, is_enabled=excluded.is_enabled`,
		p.ProviderCode, p.DisplayName, schema, p.ZoneList, p.ZoneCreate, p.DNSSEC, jsonList(p.RecordTypes), p.IsEnabled)
	if err != nil {
		return fmt.Errorf("upsert provider: %w", err)
	}
	return nil
}

func (s *SQLiteStore) scanProvider(row interface{ Scan(...any) error }) (*model.BackendProvider, error) {
	var p model.BackendProvider
	var schema, recordTypes string
	if err := row.Scan(&p.ID, &p.ProviderCode, &p.DisplayName, &schema, &p.ZoneList, &p.ZoneCreate, &p.DNSSEC, &recordTypes, &p.IsEnabled); err != nil {
		return nil, err
	}
	p.ConfigSchema = json.RawMessage(schema)
	p.RecordTypes = parseList(recordTypes)
	return &p, nil
}

const providerColumns = `id, provider_code, display_name, config_schema, zone_list, zone_create, dnssec, record_types, is_enabled`

func (s *SQLiteStore) GetProviderByCode(ctx context.Context, code string) (*model.BackendProvider, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+providerColumns+` FROM providers WHERE provider_code=?`, code)
	p, err := s.scanProvider(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get provider: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) ListProviders(ctx context.Context) ([]*model.BackendProvider, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+providerColumns+` FROM providers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()
	var out []*model.BackendProvider
	for rows.Next() {
		p, err := s.scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ---- Backend services ----

func (s *SQLiteStore) CreateBackendService(ctx context.Context, b *model.BackendService, operator string) (*model.BackendService, error) {
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO backend_services (provider_id, service_name, owner_type, owner_id, config, is_active, is_default_for_owner, last_test_status, last_test_message, created_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, '', '', ?)`,
		b.ProviderID, b.ServiceName, b.OwnerType, b.OwnerID, string(b.Config), b.IsDefaultForOwner, now.Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("insert backend service: %w", err)
	}
	id, _ := res.LastInsertId()
	if err := s.insertAuditTx(ctx, tx, operator, "backend_service.create", b.ServiceName, model.OutcomeSuccess); err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	b.ID = id
	b.IsActive = true
	b.CreatedAt = now
	return b, nil
}

func (s *SQLiteStore) scanBackendService(row interface{ Scan(...any) error }) (*model.BackendService, error) {
	var b model.BackendService
	var config, createdAt string
	var ownerID sql.NullInt64
	if err := row.Scan(&b.ID, &b.ProviderID, &b.ServiceName, &b.OwnerType, &ownerID, &config, &b.IsActive, &b.IsDefaultForOwner, &b.LastTestStatus, &b.LastTestMessage, &createdAt); err != nil {
		return nil, err
	}
	if ownerID.Valid {
		b.OwnerID = &ownerID.Int64
	}
	b.Config = json.RawMessage(config)
	b.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &b, nil
}

const backendServiceColumns = `id, provider_id, service_name, owner_type, owner_id, config, is_active, is_default_for_owner, last_test_status, last_test_message, created_at`

func (s *SQLiteStore) GetBackendService(ctx context.Context, id int64) (*model.BackendService, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+backendServiceColumns+` FROM backend_services WHERE id=?`, id)
	b, err := s.scanBackendService(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get backend service: %w", err)
	}
	return b, nil
}

func (s *SQLiteStore) ListBackendServices(ctx context.Context, ownerType model.OwnerType, ownerID *int64) ([]*model.BackendService, error) {
	var rows *sql.Rows
	var err error
	if ownerID != nil {
		rows, err = s.db.QueryContext(ctx, `SELECT `+backendServiceColumns+` FROM backend_services WHERE owner_type=? AND owner_id=? ORDER BY id`, ownerType, *ownerID)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+backendServiceColumns+` FROM backend_services WHERE owner_type=? ORDER BY id`, ownerType)
	}
	if err != nil {
		return nil, fmt.Errorf("list backend services: %w", err)
	}
	defer rows.Close()
	var out []*model.BackendService
	for rows.Next() {
		b, err := s.scanBackendService(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backend service: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateBackendService(ctx context.Context, b *model.BackendService, operator string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, `
		UPDATE backend_services SET config=?, is_active=?, is_default_for_owner=?, last_test_status=?, last_test_message=? WHERE id=?`,
		string(b.Config), b.IsActive, b.IsDefaultForOwner, b.LastTestStatus, b.LastTestMessage, b.ID)
	if err != nil {
		return fmt.Errorf("update backend service: %w", err)
	}
	if err := s.insertAuditTx(ctx, tx, operator, "backend_service.update", b.ServiceName, model.OutcomeSuccess); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) DeleteBackendService(ctx context.Context, id int64, operator string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `DELETE FROM backend_services WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete backend service: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := s.insertAuditTx(ctx, tx, operator, "backend_service.delete", "", model.OutcomeSuccess); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	return tx.Commit()
}

// ---- Domain roots ----

func (s *SQLiteStore) CreateDomainRoot(ctx context.Context, d *model.ManagedDomainRoot, operator string) (*model.ManagedDomainRoot, error) {
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO domain_roots (backend_service_id, root_domain, dns_zone, visibility, allow_apex_access, min_subdomain_depth, max_subdomain_depth, allowed_record_types, allowed_operations, is_active, verified_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, NULL, ?)`,
		d.BackendServiceID, d.RootDomain, d.DNSZone, d.Visibility, d.AllowApexAccess, d.MinSubdomainDepth, d.MaxSubdomainDepth,
		jsonList(d.AllowedRecordTypes), jsonList(d.AllowedOperations), now.Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("insert domain root: %w", err)
	}
	id, _ := res.LastInsertId()
	if err := s.insertAuditTx(ctx, tx, operator, "domain_root.create", d.RootDomain, model.OutcomeSuccess); err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	d.ID = id
	d.IsActive = true
	d.CreatedAt = now
	return d, nil
}

func (s *SQLiteStore) scanDomainRoot(row interface{ Scan(...any) error }) (*model.ManagedDomainRoot, error) {
	var d model.ManagedDomainRoot
	var recordTypes, operations, createdAt string
	var verifiedAt sql.NullString
	if err := row.Scan(&d.ID, &d.BackendServiceID, &d.RootDomain, &d.DNSZone, &d.Visibility, &d.AllowApexAccess,
		&d.MinSubdomainDepth, &d.MaxSubdomainDepth, &recordTypes, &operations, &d.IsActive, &verifiedAt, &createdAt); err != nil {
		return nil, err
	}
	d.AllowedRecordTypes = parseList(recordTypes)
	d.AllowedOperations = parseList(operations)
	var err error
	if d.VerifiedAt, err = scanNullableTime(verifiedAt); err != nil {
		return nil, err
	}
	d.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &d, nil
}

const domainRootColumns = `id, backend_service_id, root_domain, dns_zone, visibility, allow_apex_access, min_subdomain_depth, max_subdomain_depth, allowed_record_types, allowed_operations, is_active, verified_at, created_at`

func (s *SQLiteStore) GetDomainRoot(ctx context.Context, id int64) (*model.ManagedDomainRoot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+domainRootColumns+` FROM domain_roots WHERE id=?`, id)
	d, err := s.scanDomainRoot(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get domain root: %w", err)
	}
	return d, nil
}

func (s *SQLiteStore) ListDomainRootsVisible(ctx context.Context, accountID int64) ([]*model.ManagedDomainRoot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+domainRootColumns+` FROM domain_roots
		WHERE is_active=1 AND (visibility='public' OR id IN (
			SELECT domain_root_id FROM domain_root_grants WHERE account_id=? AND revoked_at IS NULL
		)) ORDER BY id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list visible domain roots: %w", err)
	}
	defer rows.Close()
	var out []*model.ManagedDomainRoot
	for rows.Next() {
		d, err := s.scanDomainRoot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan domain root: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateDomainRoot(ctx context.Context, d *model.ManagedDomainRoot, operator string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, `
		UPDATE domain_roots SET visibility=?, allow_apex_access=?, min_subdomain_depth=?, max_subdomain_depth=?,
			allowed_record_types=?, allowed_operations=?, is_active=?, verified_at=? WHERE id=?`,
		d.Visibility, d.AllowApexAccess, d.MinSubdomainDepth, d.MaxSubdomainDepth,
		jsonList(d.AllowedRecordTypes), jsonList(d.AllowedOperations), d.IsActive, nullableTime(d.VerifiedAt), d.ID)
	if err != nil {
		return fmt.Errorf("update domain root: %w", err)
	}
	if err := s.insertAuditTx(ctx, tx, operator, "domain_root.update", d.RootDomain, model.OutcomeSuccess); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	return tx.Commit()
}

// ---- Grants ----

func (s *SQLiteStore) CreateGrant(ctx context.Context, g *model.DomainRootGrant, operator string) (*model.DomainRootGrant, error) {
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO domain_root_grants (domain_root_id, account_id, grant_type, granted_by, expires_at, revoked_at, created_at)
		VALUES (?, ?, ?, ?, ?, NULL, ?)`,
		g.DomainRootID, g.AccountID, g.GrantType, g.GrantedBy, nullableTime(g.ExpiresAt), now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert grant: %w", err)
	}
	id, _ := res.LastInsertId()
	if err := s.insertAuditTx(ctx, tx, operator, "grant.create", "", model.OutcomeSuccess); err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	g.ID = id
	g.CreatedAt = now
	return g, nil
}

func (s *SQLiteStore) ListGrantsForAccount(ctx context.Context, accountID int64) ([]*model.DomainRootGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, domain_root_id, account_id, grant_type, granted_by, expires_at, revoked_at, created_at
		FROM domain_root_grants WHERE account_id=? ORDER BY id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()
	var out []*model.DomainRootGrant
	for rows.Next() {
		var g model.DomainRootGrant
		var expiresAt, revokedAt sql.NullString
		var createdAt string
		if err := rows.Scan(&g.ID, &g.DomainRootID, &g.AccountID, &g.GrantType, &g.GrantedBy, &expiresAt, &revokedAt, &createdAt); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		g.ExpiresAt, err = scanNullableTime(expiresAt)
		if err != nil {
			return nil, err
		}
		g.RevokedAt, err = scanNullableTime(revokedAt)
		if err != nil {
			return nil, err
		}
		g.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, &g)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RevokeGrant(ctx context.Context, id int64, operator string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `UPDATE domain_root_grants SET revoked_at=? WHERE id=? AND revoked_at IS NULL`,
		time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("revoke grant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := s.insertAuditTx(ctx, tx, operator, "grant.revoke", "", model.OutcomeSuccess); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	return tx.Commit()
}

// ---- Audit ----

func (s *SQLiteStore) InsertAuditRecord(ctx context.Context, rec *model.AuditRecord) error {
	var accountID any
	if rec.AccountID != nil {
		accountID = *rec.AccountID
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_records (timestamp, token_prefix, account_id, source_ip, operation, domain, record_details, outcome, error_kind, latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp.UTC().Format(time.RFC3339Nano), rec.TokenPrefix, accountID, rec.SourceIP, rec.Operation, rec.Domain,
		rec.RecordDetails, rec.Outcome, rec.ErrorKind, rec.LatencyMS)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	id, _ := res.LastInsertId()
	rec.ID = id
	return nil
}

func (s *SQLiteStore) ListAuditRecords(ctx context.Context, filter AuditFilter) ([]*model.AuditRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, timestamp, token_prefix, account_id, source_ip, operation, domain, record_details, outcome, error_kind, latency_ms FROM audit_records WHERE 1=1`
	var args []any
	if filter.AccountID != nil {
		query += ` AND account_id = ?`
		args = append(args, *filter.AccountID)
	}
	if filter.TokenPrefix != "" {
		query += ` AND token_prefix = ?`
		args = append(args, filter.TokenPrefix)
	}
	if filter.Outcome != "" {
		query += ` AND outcome = ?`
		args = append(args, filter.Outcome)
	}
	query += ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()
	var out []*model.AuditRecord
	for rows.Next() {
		var r model.AuditRecord
		var ts string
		var accountID sql.NullInt64
		if err := rows.Scan(&r.ID, &ts, &r.TokenPrefix, &accountID, &r.SourceIP, &r.Operation, &r.Domain, &r.RecordDetails, &r.Outcome, &r.ErrorKind, &r.LatencyMS); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		r.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		if accountID.Valid {
			r.AccountID = &accountID.Int64
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// ---- Sessions ----

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, account_id, created_at, last_seen_at, csrf_token, totp_verified)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.AccountID, sess.CreatedAt.UTC().Format(time.RFC3339Nano), sess.LastSeenAt.UTC().Format(time.RFC3339Nano), sess.CSRFToken, sess.TOTPVerified)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	var created, lastSeen string
	err := s.db.QueryRowContext(ctx, `SELECT id, account_id, created_at, last_seen_at, csrf_token, totp_verified FROM sessions WHERE id=?`, id).
		Scan(&sess.ID, &sess.AccountID, &created, &lastSeen, &sess.CSRFToken, &sess.TOTPVerified)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	sess.LastSeenAt, _ = time.Parse(time.RFC3339Nano, lastSeen)
	return &sess, nil
}

func (s *SQLiteStore) TouchSession(ctx context.Context, id string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_seen_at=? WHERE id=?`, now.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteExpiredSessions(ctx context.Context, idleCutoff, absoluteCutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE last_seen_at < ? OR created_at < ?`,
		idleCutoff.UTC().Format(time.RFC3339Nano), absoluteCutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ---- Bootstrap ----

func (s *SQLiteStore) IsBootstrapped(ctx context.Context) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts WHERE is_admin=1`).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check bootstrap: %w", err)
	}
	return n > 0, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// modernc.org/sqlite surfaces constraint violations as *sqlite.Error
	// whose message contains "UNIQUE constraint failed"; matching on the
	// message is the same approach the driver's own tests use since the
	// error type doesn't export a stable code constant in this driver.
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}
