package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

// ParameterGet reads a parameter's raw text value. An absent parameter
// returns ("", false, nil).
func (c *Catalog) ParameterGet(ctx context.Context, code string) (string, bool, error) {
	var value string
	err := c.conn.QueryRowContext(ctx, `SELECT value FROM parameters WHERE code = ?`, code).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get parameter %s: %w", code, err)
	}
	return value, true, nil
}

// ParameterSet upserts a parameter's text value.
func (c *Catalog) ParameterSet(ctx context.Context, code, value string) error {
	_, err := c.conn.ExecContext(ctx, `
		INSERT INTO parameters (code, value) VALUES (?, ?)
		ON CONFLICT(code) DO UPDATE SET value = excluded.value
	`, code, value)
	if err != nil {
		return fmt.Errorf("set parameter %s: %w", code, err)
	}
	return nil
}

// LastPoolSync returns the LAST_POOL_SYNC parameter, defaulting to
// ForcePoolSync (-1) when unset, which forces a pool resync.
func (c *Catalog) LastPoolSync(ctx context.Context) (int64, error) {
	raw, ok, err := c.ParameterGet(ctx, ParamLastPoolSync)
	if err != nil {
		return 0, err
	}
	if !ok {
		return ForcePoolSync, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return ForcePoolSync, nil
	}
	return v, nil
}

// SetLastPoolSync writes the LAST_POOL_SYNC parameter.
func (c *Catalog) SetLastPoolSync(ctx context.Context, t int64) error {
	return c.ParameterSet(ctx, ParamLastPoolSync, strconv.FormatInt(t, 10))
}
