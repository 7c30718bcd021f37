package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/restock-monitor/internal/domain"
)

type pgUserRepository struct {
	pool *pgxpool.Pool
}

// NewPgUserRepository returns a UserRepository backed by PostgreSQL.
func NewPgUserRepository(pool *pgxpool.Pool) UserRepository {
	return &pgUserRepository{pool: pool}
}

func (r *pgUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	var (
		u        domain.User
		tier     string
		channels []string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, phone, telegram_chat_id, tier, channels
		FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.Phone, &u.TelegramChatID, &tier, &channels)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Tier = domain.ParseTier(tier)
	for _, c := range channels {
		if ch := domain.ChannelKind(c); ch.IsValid() {
			u.Channels = append(u.Channels, ch)
		}
	}
	return &u, nil
}
