package profilerepo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"stocksync/internal/errors"
	"stocksync/internal/pkg/logger"
)

// ProfileRepository resolve o usuário vinculado a um perfil de armazém —
// o dono atribuído às linhas do livro-razão criadas preguiçosamente.
// Lookup puro: "não encontrado" tem desfecho definido (NotFoundError).
type ProfileRepository struct {
	DB        *sql.DB
	DBTimeout time.Duration
	logger    logger.Logger
}

// NewProfileRepository cria e retorna uma nova instância do repositório.
func NewProfileRepository(db *sql.DB, dbTimeout time.Duration, log logger.Logger) *ProfileRepository {
	return &ProfileRepository{
		DB:        db,
		DBTimeout: dbTimeout,
		logger:    log,
	}
}

// FindUserByProfile busca o usuário vinculado ao perfil.
func (r *ProfileRepository) FindUserByProfile(ctx context.Context, profileID string) (string, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, r.DBTimeout)
	defer cancel()

	var userID string
	err := r.DB.QueryRowContext(ctxTimeout,
		`SELECT usr FROM profile_users WHERE profile_id = $1`, profileID).Scan(&userID)

	if err == sql.ErrNoRows {
		return "", errors.NewNotFoundError(fmt.Sprintf("Perfil %s sem usuário vinculado.", profileID))
	}
	if err != nil {
		r.logger.Error("Falha ao buscar usuário do perfil.", err)
		return "", errors.NewDBError("Falha ao buscar usuário do perfil", err)
	}
	return userID, nil
}
