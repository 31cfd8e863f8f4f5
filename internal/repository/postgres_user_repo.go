package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/schedpost/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したアカウント参照リポジトリ。
type PostgresUserRepo struct {
	db DBTX
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db DBTX) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindAccount は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindAccount(ctx context.Context, id string) (*model.Account, error) {
	account := &model.Account{}
	var avatar sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, avatar FROM users WHERE id = $1`,
		id,
	).Scan(&account.ID, &account.DisplayName, &avatar)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account by ID: %w", err)
	}

	account.AvatarURL = nullStringValue(avatar)
	return account, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
