package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/JonMunkholm/repoimport/internal/core"
)

const findTeamUsers = `
SELECT u.id, u.full_name, u.email
FROM users u
JOIN team_members m ON m.user_id = u.id
WHERE m.team_id = $1
  AND (lower(u.full_name) = lower($2) OR lower(u.email) = lower($2) OR u.id::text = $2)
ORDER BY u.id`

// FindUsers returns the team members whose id, full name or e-mail equals
// text, ignoring case.
func (s *Store) FindUsers(ctx context.Context, teamID int64, text string) ([]core.User, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, findTeamUsers, teamID, text)
	if err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	defer rows.Close()

	var users []core.User
	for rows.Next() {
		var u core.User
		if err := rows.Scan(&u.ID, &u.FullName, &u.Email); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	return users, nil
}
