package credstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	goLink "github.com/MrEthical07/goLink"
)

const (
	accountRecordVersion1   = 1
	challengeRecordVersion1 = 1

	flagAccountActive    = 1 << 0
	flagAccountProtected = 1 << 1
)

var (
	ErrAccountNotFound   = errors.New("account record not found")
	ErrChallengeNotFound = errors.New("pending challenge record not found")
	ErrBackend           = errors.New("credential store backend unavailable")
)

// Store is a Redis-backed goLink.CredentialStore. All methods are safe for
// concurrent use.
type Store struct {
	redis        redis.UniversalClient
	prefix       string
	challengeTTL time.Duration
}

// New constructs a Store. An empty prefix defaults to "glc"; challengeTTL
// bounds how long a pending-challenge mirror survives a crash and should
// match the engine's pending GC horizon.
func New(redisClient redis.UniversalClient, prefix string, challengeTTL time.Duration) *Store {
	if prefix == "" {
		prefix = "glc"
	}
	if challengeTTL <= 0 {
		challengeTTL = 30 * time.Minute
	}
	return &Store{
		redis:        redisClient,
		prefix:       prefix,
		challengeTTL: challengeTTL,
	}
}

func (s *Store) accountKey(id goLink.AccountID) string {
	return s.prefix + ":acct:" + strconv.FormatInt(int64(id), 10)
}

func (s *Store) accountSetKey() string {
	return s.prefix + ":accts"
}

func (s *Store) sequenceKey() string {
	return s.prefix + ":acct:seq"
}

func (s *Store) challengeKey(owner goLink.OwnerID) string {
	return s.prefix + ":pending:" + strconv.FormatInt(int64(owner), 10)
}

// LoadAccounts returns every stored account row. Set members whose record
// has vanished are dropped from the set as they are encountered.
func (s *Store) LoadAccounts(ctx context.Context) ([]goLink.AccountRow, error) {
	members, err := s.redis.SMembers(ctx, s.accountSetKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	rows := make([]goLink.AccountRow, 0, len(members))
	for _, member := range members {
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			_, _ = s.redis.SRem(ctx, s.accountSetKey(), member).Result()
			continue
		}
		data, err := s.redis.Get(ctx, s.accountKey(goLink.AccountID(id))).Bytes()
		if errors.Is(err, redis.Nil) {
			_, _ = s.redis.SRem(ctx, s.accountSetKey(), member).Result()
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackend, err)
		}
		row, err := decodeAccountRow(data)
		if err != nil {
			return nil, err
		}
		rows = append(rows, *row)
	}
	return rows, nil
}

// UpsertAccount writes the row, allocating an id from the store sequence
// when the row has none yet.
func (s *Store) UpsertAccount(ctx context.Context, row goLink.AccountRow) (goLink.AccountID, error) {
	if row.AccountID == 0 {
		next, err := s.redis.Incr(ctx, s.sequenceKey()).Result()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrBackend, err)
		}
		row.AccountID = goLink.AccountID(next)
	}

	encoded, err := encodeAccountRow(&row)
	if err != nil {
		return 0, err
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, s.accountKey(row.AccountID), encoded, 0)
	pipe.SAdd(ctx, s.accountSetKey(), strconv.FormatInt(int64(row.AccountID), 10))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return row.AccountID, nil
}

// SetAccountOwner rewrites the row's owner.
func (s *Store) SetAccountOwner(ctx context.Context, id goLink.AccountID, owner goLink.OwnerID) error {
	return s.mutateAccount(ctx, id, func(row *goLink.AccountRow) {
		row.OwnerID = owner
	})
}

// SetAccountActive flips the row's active flag.
func (s *Store) SetAccountActive(ctx context.Context, id goLink.AccountID, active bool) error {
	return s.mutateAccount(ctx, id, func(row *goLink.AccountRow) {
		row.IsActive = active
	})
}

// ClearSession blanks the row's session token and deactivates it. The row
// itself survives for re-linking.
func (s *Store) ClearSession(ctx context.Context, id goLink.AccountID) error {
	return s.mutateAccount(ctx, id, func(row *goLink.AccountRow) {
		row.SessionToken = ""
		row.IsActive = false
	})
}

// DeleteAccount removes the row and its set membership.
func (s *Store) DeleteAccount(ctx context.Context, id goLink.AccountID) error {
	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, s.accountKey(id))
	pipe.SRem(ctx, s.accountSetKey(), strconv.FormatInt(int64(id), 10))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// mutateAccount applies fn to the stored row under an optimistic WATCH
// transaction, retrying on contention.
func (s *Store) mutateAccount(ctx context.Context, id goLink.AccountID, fn func(*goLink.AccountRow)) error {
	const maxRetries = 4
	key := s.accountKey(id)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			row, err := decodeAccountRow(data)
			if err != nil {
				return err
			}

			fn(row)

			encoded, err := encodeAccountRow(row)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, 0)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if errors.Is(err, redis.Nil) {
			return ErrAccountNotFound
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBackend, err)
		}
		return nil
	}
	return ErrAccountNotFound
}

// SavePendingChallenge stores the owner's challenge mirror with the
// configured TTL.
func (s *Store) SavePendingChallenge(ctx context.Context, row goLink.PendingChallengeRow) error {
	encoded, err := encodeChallengeRow(&row)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.challengeKey(row.OwnerID), encoded, s.challengeTTL).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// LoadPendingChallenge returns the owner's challenge mirror, or nil when
// none is stored.
func (s *Store) LoadPendingChallenge(ctx context.Context, owner goLink.OwnerID) (*goLink.PendingChallengeRow, error) {
	data, err := s.redis.Get(ctx, s.challengeKey(owner)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return decodeChallengeRow(data)
}

// DeletePendingChallenge removes the owner's challenge mirror.
func (s *Store) DeletePendingChallenge(ctx context.Context, owner goLink.OwnerID) error {
	if err := s.redis.Del(ctx, s.challengeKey(owner)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

func encodeAccountRow(row *goLink.AccountRow) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(accountRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, int64(row.AccountID)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, int64(row.OwnerID)); err != nil {
		return nil, err
	}

	var flags byte
	if row.IsActive {
		flags |= flagAccountActive
	}
	if row.IsProtected {
		flags |= flagAccountProtected
	}
	buf.WriteByte(flags)

	if err := binary.Write(&buf, binary.BigEndian, row.CreatedAt.Unix()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, row.LastUsedAt.Unix()); err != nil {
		return nil, err
	}

	for _, field := range []string{row.Phone, row.DisplayName, row.SessionToken} {
		if err := writeString(&buf, field); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func decodeAccountRow(data []byte) (*goLink.AccountRow, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != accountRecordVersion1 {
		return nil, errors.New("invalid account record version")
	}

	row := &goLink.AccountRow{}
	var id, owner, created, lastUsed int64
	if err := binary.Read(reader, binary.BigEndian, &id); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &owner); err != nil {
		return nil, err
	}
	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &created); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &lastUsed); err != nil {
		return nil, err
	}

	row.AccountID = goLink.AccountID(id)
	row.OwnerID = goLink.OwnerID(owner)
	row.IsActive = flags&flagAccountActive != 0
	row.IsProtected = flags&flagAccountProtected != 0
	row.CreatedAt = time.Unix(created, 0).UTC()
	row.LastUsedAt = time.Unix(lastUsed, 0).UTC()

	for _, field := range []*string{&row.Phone, &row.DisplayName, &row.SessionToken} {
		value, err := readString(reader)
		if err != nil {
			return nil, err
		}
		*field = value
	}
	return row, nil
}

func encodeChallengeRow(row *goLink.PendingChallengeRow) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(challengeRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, int64(row.OwnerID)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, row.CreatedAt.Unix()); err != nil {
		return nil, err
	}
	if err := writeString(&buf, row.Phone); err != nil {
		return nil, err
	}
	if err := writeString(&buf, row.ChallengeID); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeChallengeRow(data []byte) (*goLink.PendingChallengeRow, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != challengeRecordVersion1 {
		return nil, errors.New("invalid pending challenge record version")
	}

	row := &goLink.PendingChallengeRow{}
	var owner, created int64
	if err := binary.Read(reader, binary.BigEndian, &owner); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &created); err != nil {
		return nil, err
	}
	row.OwnerID = goLink.OwnerID(owner)
	row.CreatedAt = time.Unix(created, 0).UTC()

	if row.Phone, err = readString(reader); err != nil {
		return nil, err
	}
	if row.ChallengeID, err = readString(reader); err != nil {
		return nil, err
	}
	return row, nil
}

func writeString(buf *bytes.Buffer, value string) error {
	if len(value) > 65535 {
		return errors.New("record field length exceeded")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(value))); err != nil {
		return err
	}
	buf.WriteString(value)
	return nil
}

func readString(reader *bytes.Reader) (string, error) {
	var length uint16
	if err := binary.Read(reader, binary.BigEndian, &length); err != nil {
		return "", err
	}
	raw := make([]byte, length)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return "", err
	}
	return string(raw), nil
}
