package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"karmicbot/pkg/karma/model"
	"karmicbot/pkg/surreal"
)

// SurrealStore is the SurrealDB-backed Store implementation, adapted from
// the teacher's pkg/memory.SurrealStore bootstrap/query style.
type SurrealStore struct {
	client *surreal.Client
}

// NewSurrealStore wraps a surreal.Client and bootstraps the schema.
func NewSurrealStore(client *surreal.Client) (*SurrealStore, error) {
	s := &SurrealStore{client: client}
	if err := s.init(); err != nil {
		return nil, fmt.Errorf("karma store: schema init: %w", err)
	}
	return s, nil
}

func (s *SurrealStore) init() error {
	stmts := []string{
		"DEFINE TABLE IF NOT EXISTS users SCHEMAFULL",
		"DEFINE FIELD IF NOT EXISTS external_id ON users TYPE int",
		"DEFINE FIELD IF NOT EXISTS display_name ON users TYPE string DEFAULT ''",
		"DEFINE FIELD IF NOT EXISTS is_bot ON users TYPE bool DEFAULT false",
		"DEFINE INDEX IF NOT EXISTS users_external_id ON users FIELDS external_id UNIQUE",

		"DEFINE TABLE IF NOT EXISTS chats SCHEMAFULL",
		"DEFINE FIELD IF NOT EXISTS external_id ON chats TYPE int",
		"DEFINE INDEX IF NOT EXISTS chats_external_id ON chats FIELDS external_id UNIQUE",

		"DEFINE TABLE IF NOT EXISTS chat_settings SCHEMAFULL",
		"DEFINE FIELD IF NOT EXISTS chat_id ON chat_settings TYPE int",
		"DEFINE FIELD IF NOT EXISTS karma_counting ON chat_settings TYPE bool DEFAULT true",
		"DEFINE FIELD IF NOT EXISTS karmic_restrictions ON chat_settings TYPE bool DEFAULT true",

		"DEFINE TABLE IF NOT EXISTS user_karma SCHEMAFULL",
		"DEFINE FIELD IF NOT EXISTS user_id ON user_karma TYPE int",
		"DEFINE FIELD IF NOT EXISTS chat_id ON user_karma TYPE int",
		"DEFINE FIELD IF NOT EXISTS karma ON user_karma TYPE float DEFAULT 0",
		"DEFINE INDEX IF NOT EXISTS user_karma_pair ON user_karma FIELDS user_id, chat_id UNIQUE",

		"DEFINE TABLE IF NOT EXISTS karma_events SCHEMAFULL",
		"DEFINE FIELD IF NOT EXISTS user_from ON karma_events TYPE int",
		"DEFINE FIELD IF NOT EXISTS user_to ON karma_events TYPE int",
		"DEFINE FIELD IF NOT EXISTS chat_id ON karma_events TYPE int",
		"DEFINE FIELD IF NOT EXISTS how_change_signed ON karma_events TYPE float",
		"DEFINE FIELD IF NOT EXISTS how_change_weighted ON karma_events TYPE float",
		"DEFINE FIELD IF NOT EXISTS date ON karma_events TYPE datetime",
		"DEFINE FIELD IF NOT EXISTS comment ON karma_events TYPE string DEFAULT ''",
		"DEFINE FIELD IF NOT EXISTS reverted ON karma_events TYPE bool DEFAULT false",
		"DEFINE INDEX IF NOT EXISTS karma_events_from_date ON karma_events FIELDS user_from, chat_id, date",
		"DEFINE INDEX IF NOT EXISTS karma_events_from_target_date ON karma_events FIELDS user_from, user_to, chat_id, date",

		"DEFINE TABLE IF NOT EXISTS moderator_events SCHEMAFULL",
		"DEFINE FIELD IF NOT EXISTS moderator ON moderator_events TYPE int DEFAULT 0",
		"DEFINE FIELD IF NOT EXISTS user_id ON moderator_events TYPE int",
		"DEFINE FIELD IF NOT EXISTS chat_id ON moderator_events TYPE int",
		"DEFINE FIELD IF NOT EXISTS type ON moderator_events TYPE string",
		"DEFINE FIELD IF NOT EXISTS date ON moderator_events TYPE datetime",
		"DEFINE FIELD IF NOT EXISTS duration_ns ON moderator_events TYPE option<int>",
		"DEFINE FIELD IF NOT EXISTS comment ON moderator_events TYPE string DEFAULT ''",
		"DEFINE FIELD IF NOT EXISTS deleted ON moderator_events TYPE bool DEFAULT false",
		"DEFINE INDEX IF NOT EXISTS moderator_events_user_chat ON moderator_events FIELDS user_id, chat_id",

		"DEFINE TABLE IF NOT EXISTS messages SCHEMAFULL",
		"DEFINE FIELD IF NOT EXISTS chat_id ON messages TYPE int",
		"DEFINE FIELD IF NOT EXISTS message_id ON messages TYPE int",
		"DEFINE FIELD IF NOT EXISTS user_id ON messages TYPE int",
		"DEFINE FIELD IF NOT EXISTS date ON messages TYPE datetime",
		"DEFINE INDEX IF NOT EXISTS messages_chat_message ON messages FIELDS chat_id, message_id UNIQUE",
		"DEFINE INDEX IF NOT EXISTS messages_date ON messages FIELDS date",
	}
	for _, stmt := range stmts {
		if _, err := s.client.Query(stmt, nil); err != nil {
			return err
		}
	}
	return nil
}

func messageThing(chatID, messageID int64) string {
	return fmt.Sprintf("messages:⟨%d_%d⟩", chatID, messageID)
}

func userKarmaThing(userID, chatID int64) string {
	return fmt.Sprintf("user_karma:⟨%d_%d⟩", userID, chatID)
}

func chatSettingsThing(chatID int64) string {
	return fmt.Sprintf("chat_settings:⟨%d⟩", chatID)
}

func asRows(result interface{}) []map[string]interface{} {
	slice, ok := result.([]interface{})
	if !ok {
		return nil
	}
	rows := make([]map[string]interface{}, 0, len(slice))
	for _, item := range slice {
		if m, ok := item.(map[string]interface{}); ok {
			rows = append(rows, m)
		}
	}
	return rows
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func asBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

func asString(v interface{}) string {
	str, _ := v.(string)
	return str
}

func (s *SurrealStore) GetOrCreateUser(ctx context.Context, externalID int64, isBot bool) (model.User, error) {
	rows, err := s.client.Query(
		`SELECT * FROM users WHERE external_id = $external_id LIMIT 1;`,
		map[string]interface{}{"external_id": externalID},
	)
	if err != nil {
		return model.User{}, err
	}
	if found := asRows(rows); len(found) > 0 {
		return model.User{
			ID:         asInt64(found[0]["id"]),
			ExternalID: externalID,
			IsBot:      asBool(found[0]["is_bot"]),
		}, nil
	}

	created, err := s.client.Query(
		`INSERT INTO users (external_id, is_bot) VALUES ($external_id, $is_bot) RETURN AFTER;`,
		map[string]interface{}{"external_id": externalID, "is_bot": isBot},
	)
	if err != nil {
		return model.User{}, err
	}
	rows2 := asRows(created)
	if len(rows2) == 0 {
		return model.User{}, fmt.Errorf("karma store: failed to create user %d", externalID)
	}
	return model.User{ID: asInt64(rows2[0]["id"]), ExternalID: externalID, IsBot: isBot}, nil
}

func (s *SurrealStore) GetUser(ctx context.Context, id int64) (model.User, bool, error) {
	rows, err := s.client.Query(
		`SELECT * FROM users WHERE id = $id LIMIT 1;`,
		map[string]interface{}{"id": id},
	)
	if err != nil {
		return model.User{}, false, err
	}
	found := asRows(rows)
	if len(found) == 0 {
		return model.User{}, false, nil
	}
	return model.User{
		ID:         asInt64(found[0]["id"]),
		ExternalID: asInt64(found[0]["external_id"]),
		IsBot:      asBool(found[0]["is_bot"]),
	}, true, nil
}

func (s *SurrealStore) GetOrCreateChat(ctx context.Context, externalID int64) (model.Chat, error) {
	rows, err := s.client.Query(
		`SELECT * FROM chats WHERE external_id = $external_id LIMIT 1;`,
		map[string]interface{}{"external_id": externalID},
	)
	if err != nil {
		return model.Chat{}, err
	}
	if found := asRows(rows); len(found) > 0 {
		return model.Chat{ID: asInt64(found[0]["id"]), ExternalID: externalID}, nil
	}

	created, err := s.client.Query(
		`INSERT INTO chats (external_id) VALUES ($external_id) RETURN AFTER;`,
		map[string]interface{}{"external_id": externalID},
	)
	if err != nil {
		return model.Chat{}, err
	}
	rows2 := asRows(created)
	if len(rows2) == 0 {
		return model.Chat{}, fmt.Errorf("karma store: failed to create chat %d", externalID)
	}
	chatID := asInt64(rows2[0]["id"])

	// Default settings, created alongside the chat (lifecycle tied to Chat, spec §3).
	_, err = s.client.Query(
		`INSERT INTO chat_settings (id, chat_id, karma_counting, karmic_restrictions)
		 VALUES (type::thing("chat_settings", $id), $chat_id, true, true)
		 ON DUPLICATE KEY UPDATE chat_id = $chat_id;`,
		map[string]interface{}{"id": fmt.Sprintf("%d", chatID), "chat_id": chatID},
	)
	if err != nil {
		return model.Chat{}, fmt.Errorf("karma store: default chat_settings: %w", err)
	}

	return model.Chat{ID: chatID, ExternalID: externalID}, nil
}

func (s *SurrealStore) ChatSettings(ctx context.Context, chatID int64) (model.ChatSettings, error) {
	rows, err := s.client.Query(
		`SELECT * FROM ONLY `+chatSettingsThing(chatID)+`;`,
		nil,
	)
	if err != nil {
		return model.ChatSettings{}, err
	}
	found := asRows(rows)
	if len(found) == 0 {
		// Chat created via a path that skipped GetOrCreateChat's default insert.
		return model.ChatSettings{ChatID: chatID, KarmaCounting: true, KarmicRestrictions: true}, nil
	}
	return model.ChatSettings{
		ChatID:             chatID,
		KarmaCounting:      asBool(found[0]["karma_counting"]),
		KarmicRestrictions: asBool(found[0]["karmic_restrictions"]),
	}, nil
}

func (s *SurrealStore) StoreMessageAuthor(ctx context.Context, chatID, messageID, userID int64, date time.Time) error {
	_, err := s.client.Query(
		`INSERT INTO messages (id, chat_id, message_id, user_id, date)
		 VALUES (type::thing("messages", $id), $chat_id, $message_id, $user_id, $date)
		 ON DUPLICATE KEY UPDATE user_id = $user_id, date = $date;`,
		map[string]interface{}{
			"id":         fmt.Sprintf("%d_%d", chatID, messageID),
			"chat_id":    chatID,
			"message_id": messageID,
			"user_id":    userID,
			"date":       date,
		},
	)
	return err
}

func (s *SurrealStore) GetMessageAuthor(ctx context.Context, chatID, messageID int64) (int64, bool, error) {
	result, err := s.client.Query(`SELECT user_id FROM ONLY `+messageThing(chatID, messageID)+`;`, nil)
	if err != nil {
		return 0, false, err
	}
	rows := asRows(result)
	if len(rows) == 0 {
		return 0, false, nil
	}
	return asInt64(rows[0]["user_id"]), true, nil
}

func (s *SurrealStore) CleanupMessageAuthors(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.client.Query(
		`DELETE messages WHERE date < $cutoff RETURN BEFORE;`,
		map[string]interface{}{"cutoff": cutoff},
	)
	if err != nil {
		return 0, err
	}
	return int64(len(asRows(result))), nil
}

func (s *SurrealStore) KarmaOf(ctx context.Context, userID, chatID int64) (float64, bool, error) {
	result, err := s.client.Query(`SELECT karma FROM ONLY `+userKarmaThing(userID, chatID)+`;`, nil)
	if err != nil {
		return 0, false, err
	}
	rows := asRows(result)
	if len(rows) == 0 {
		return 0, false, nil
	}
	return asFloat(rows[0]["karma"]), true, nil
}

func (s *SurrealStore) Percentile(ctx context.Context, userID, chatID int64) (float64, bool, error) {
	karma, found, err := s.KarmaOf(ctx, userID, chatID)
	if err != nil {
		return 0, false, err
	}
	if !found {
		return 0, false, nil
	}

	result, err := s.client.Query(
		`SELECT count() AS total FROM user_karma WHERE chat_id = $chat_id GROUP ALL;`,
		map[string]interface{}{"chat_id": chatID},
	)
	if err != nil {
		return 0, false, err
	}
	totalRows := asRows(result)
	if len(totalRows) == 0 {
		return 0, false, nil
	}
	total := asFloat(totalRows[0]["total"])
	if total <= 0 {
		return 0, false, nil
	}

	higherResult, err := s.client.Query(
		`SELECT count() AS higher FROM user_karma WHERE chat_id = $chat_id AND karma > $karma GROUP ALL;`,
		map[string]interface{}{"chat_id": chatID, "karma": karma},
	)
	if err != nil {
		return 0, false, err
	}
	higherRows := asRows(higherResult)
	higher := 0.0
	if len(higherRows) > 0 {
		higher = asFloat(higherRows[0]["higher"])
	}

	return higher / total, true, nil
}

func (s *SurrealStore) ActiveRestriction(ctx context.Context, userID, chatID int64, now time.Time) (bool, error) {
	result, err := s.client.Query(
		`SELECT date, duration_ns FROM moderator_events
		 WHERE user_id = $user_id AND chat_id = $chat_id
		   AND deleted = false AND duration_ns != NONE;`,
		map[string]interface{}{"user_id": userID, "chat_id": chatID},
	)
	if err != nil {
		return false, err
	}
	for _, row := range asRows(result) {
		date, ok := row["date"].(time.Time)
		if !ok {
			continue
		}
		durNs := asInt64(row["duration_ns"])
		if date.Add(time.Duration(durNs)).Before(now) {
			continue
		}
		return true, nil
	}
	return false, nil
}

func (s *SurrealStore) SumAbsWeightedKarma(ctx context.Context, userFrom, chatID, targetID int64, since time.Time) (float64, error) {
	query := `SELECT math::sum(math::abs(how_change_weighted)) AS total FROM karma_events
		 WHERE user_from = $user_from AND chat_id = $chat_id AND reverted = false AND date >= $since`
	vars := map[string]interface{}{"user_from": userFrom, "chat_id": chatID, "since": since}
	if targetID != 0 {
		query += ` AND user_to = $user_to`
		vars["user_to"] = targetID
	}
	query += ` GROUP ALL;`

	result, err := s.client.Query(query, vars)
	if err != nil {
		return 0, err
	}
	rows := asRows(result)
	if len(rows) == 0 {
		return 0, nil
	}
	return asFloat(rows[0]["total"]), nil
}

// ApplyKarmaChange performs the C6 transaction. SurrealQL has no
// SELECT...FOR UPDATE; the whole read-modify-write is issued as one
// BEGIN/COMMIT TRANSACTION block so SurrealDB's own transaction isolation
// serializes concurrent writers on the same user_karma record (see
// DESIGN.md). A failed attempt is retried once, whatever the error; the
// retry does not check whether the failure was a write conflict.
func (s *SurrealStore) ApplyKarmaChange(ctx context.Context, in ApplyKarmaChangeInput) (KarmaOutcome, error) {
	const maxAttempts = 2
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		outcome, err := s.applyKarmaChangeOnce(ctx, in)
		if err == nil {
			return outcome, nil
		}
		lastErr = err
		log.Printf("[karma store] ApplyKarmaChange attempt %d failed: %v", attempt+1, err)
	}
	return KarmaOutcome{}, fmt.Errorf("karma store: apply karma change: %w", lastErr)
}

func (s *SurrealStore) applyKarmaChangeOnce(ctx context.Context, in ApplyKarmaChangeInput) (KarmaOutcome, error) {
	karmaBefore, _, err := s.KarmaOf(ctx, in.TargetUserID, in.ChatID)
	if err != nil {
		return KarmaOutcome{}, err
	}
	karmaAfter := karmaBefore + in.Delta

	vars := map[string]interface{}{
		"target_thing": userKarmaThing(in.TargetUserID, in.ChatID),
		"reactor_thing": userKarmaThing(in.ReactorUserID, in.ChatID),
		"target_id":    in.TargetUserID,
		"reactor_id":   in.ReactorUserID,
		"chat_id":      in.ChatID,
		"delta":        in.Delta,
		"comment":      in.Comment,
		"date":         in.Date,
	}

	query := `
		BEGIN TRANSACTION;
		INSERT INTO user_karma (id, user_id, chat_id, karma)
			VALUES (type::thing("user_karma", $reactor_id + "_" + $chat_id), $reactor_id, $chat_id, 0)
			ON DUPLICATE KEY UPDATE karma = karma;
		UPDATE type::thing("user_karma", $target_id + "_" + $chat_id)
			SET user_id = $target_id, chat_id = $chat_id, karma = karma + $delta
			WHERE true
			ELSE CREATE type::thing("user_karma", $target_id + "_" + $chat_id)
				SET user_id = $target_id, chat_id = $chat_id, karma = $delta;
		LET $event = (CREATE karma_events SET
			user_from = $reactor_id, user_to = $target_id, chat_id = $chat_id,
			how_change_signed = $delta, how_change_weighted = $delta,
			date = $date, comment = $comment, reverted = false);
		COMMIT TRANSACTION;
		RETURN $event;
	`
	result, err := s.client.Query(query, vars)
	if err != nil {
		return KarmaOutcome{}, err
	}
	rows := asRows(result)
	if len(rows) == 0 {
		return KarmaOutcome{}, fmt.Errorf("karma store: transaction returned no event row")
	}
	eventID := asInt64(rows[0]["id"])

	var moderatorEventID int64
	if in.CreateModeratorEvent != nil {
		moderatorEventID, err = s.CreateModeratorEvent(ctx, *in.CreateModeratorEvent)
		if err != nil {
			return KarmaOutcome{}, fmt.Errorf("karma store: create moderator event: %w", err)
		}
	}

	return KarmaOutcome{
		KarmaEventID:     eventID,
		KarmaBefore:      karmaBefore,
		KarmaAfter:       karmaAfter,
		DeltaApplied:     in.Delta,
		ModeratorEventID: moderatorEventID,
	}, nil
}

func (s *SurrealStore) CountPriorAutoMutes(ctx context.Context, userID, chatID int64) (int, error) {
	result, err := s.client.Query(
		`SELECT count() AS total FROM moderator_events
		 WHERE user_id = $user_id AND chat_id = $chat_id AND type = $type GROUP ALL;`,
		map[string]interface{}{"user_id": userID, "chat_id": chatID, "type": string(model.EventAutoMute)},
	)
	if err != nil {
		return 0, err
	}
	rows := asRows(result)
	if len(rows) == 0 {
		return 0, nil
	}
	return int(asFloat(rows[0]["total"])), nil
}

func (s *SurrealStore) CreateModeratorEvent(ctx context.Context, ev model.ModeratorEvent) (int64, error) {
	var durationNs interface{}
	if ev.Duration != nil {
		durationNs = int64(*ev.Duration)
	}
	result, err := s.client.Query(
		`INSERT INTO moderator_events (moderator, user_id, chat_id, type, date, duration_ns, comment, deleted)
		 VALUES ($moderator, $user_id, $chat_id, $type, $date, $duration_ns, $comment, false)
		 RETURN AFTER;`,
		map[string]interface{}{
			"moderator":   ev.Moderator,
			"user_id":     ev.UserID,
			"chat_id":     ev.ChatID,
			"type":        string(ev.Type),
			"date":        ev.Date,
			"duration_ns": durationNs,
			"comment":     ev.Comment,
		},
	)
	if err != nil {
		return 0, err
	}
	rows := asRows(result)
	if len(rows) == 0 {
		return 0, fmt.Errorf("karma store: failed to create moderator event")
	}
	return asInt64(rows[0]["id"]), nil
}

func (s *SurrealStore) GetModeratorEvent(ctx context.Context, id int64) (model.ModeratorEvent, bool, error) {
	result, err := s.client.Query(
		`SELECT * FROM moderator_events WHERE id = $id LIMIT 1;`,
		map[string]interface{}{"id": id},
	)
	if err != nil {
		return model.ModeratorEvent{}, false, err
	}
	rows := asRows(result)
	if len(rows) == 0 {
		return model.ModeratorEvent{}, false, nil
	}
	return rowToModeratorEvent(rows[0]), true, nil
}

func rowToModeratorEvent(row map[string]interface{}) model.ModeratorEvent {
	ev := model.ModeratorEvent{
		ID:        asInt64(row["id"]),
		Moderator: asInt64(row["moderator"]),
		UserID:    asInt64(row["user_id"]),
		ChatID:    asInt64(row["chat_id"]),
		Type:      model.ModeratorEventType(asString(row["type"])),
		Comment:   asString(row["comment"]),
		Deleted:   asBool(row["deleted"]),
	}
	if date, ok := row["date"].(time.Time); ok {
		ev.Date = date
	}
	if row["duration_ns"] != nil {
		d := time.Duration(asInt64(row["duration_ns"]))
		ev.Duration = &d
	}
	return ev
}

func (s *SurrealStore) DeleteModeratorEvent(ctx context.Context, id int64) error {
	_, err := s.client.Query(
		`UPDATE moderator_events SET deleted = true WHERE id = $id;`,
		map[string]interface{}{"id": id},
	)
	return err
}

func (s *SurrealStore) GetKarmaEvent(ctx context.Context, id int64) (model.KarmaEvent, bool, error) {
	result, err := s.client.Query(
		`SELECT * FROM karma_events WHERE id = $id LIMIT 1;`,
		map[string]interface{}{"id": id},
	)
	if err != nil {
		return model.KarmaEvent{}, false, err
	}
	rows := asRows(result)
	if len(rows) == 0 {
		return model.KarmaEvent{}, false, nil
	}
	row := rows[0]
	ev := model.KarmaEvent{
		ID:                asInt64(row["id"]),
		UserFrom:          asInt64(row["user_from"]),
		UserTo:            asInt64(row["user_to"]),
		ChatID:            asInt64(row["chat_id"]),
		HowChangeSigned:   asFloat(row["how_change_signed"]),
		HowChangeWeighted: asFloat(row["how_change_weighted"]),
		Comment:           asString(row["comment"]),
		Reverted:          asBool(row["reverted"]),
	}
	if date, ok := row["date"].(time.Time); ok {
		ev.Date = date
	}
	return ev, true, nil
}

// ReverseKarmaEvent implements C9 step 1-2: create the inverse event and
// update UserKarma, atomically, and idempotently (a second call on an
// already-reverted event is a no-op, so retries of an undo callback can't
// double-apply it).
func (s *SurrealStore) ReverseKarmaEvent(ctx context.Context, karmaEventID int64, rollbackDelta float64) error {
	original, found, err := s.GetKarmaEvent(ctx, karmaEventID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("karma store: karma event %d not found", karmaEventID)
	}
	if original.Reverted {
		return nil
	}

	query := `
		BEGIN TRANSACTION;
		UPDATE karma_events SET reverted = true WHERE id = $id AND reverted = false;
		UPDATE type::thing("user_karma", $user_to + "_" + $chat_id)
			SET karma = karma + $delta;
		CREATE karma_events SET
			user_from = $user_from, user_to = $user_to, chat_id = $chat_id,
			how_change_signed = $delta, how_change_weighted = $delta,
			date = time::now(), comment = "(undo)", reverted = false;
		COMMIT TRANSACTION;
	`
	_, err = s.client.Query(query, map[string]interface{}{
		"id":        karmaEventID,
		"user_from": original.UserFrom,
		"user_to":   original.UserTo,
		"chat_id":   original.ChatID,
		"delta":     rollbackDelta,
	})
	return err
}
