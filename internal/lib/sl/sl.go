// Package sl содержит вспомогательные функции для работы с логгером slog.
// Основная цель — единообразные ключи структурированных полей лога
// для ошибок, задач и аккаунтов.
package sl

import "log/slog"

// Err возвращает slog.Attr с ключом "error" и значением текста ошибки.
//
// Пример:
//
//	log.Error("failed to reserve entitlement", sl.Err(err))
func Err(err error) slog.Attr {
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}

// JobID возвращает атрибут с идентификатором задачи.
func JobID(id string) slog.Attr {
	return slog.String("job_id", id)
}

// AccountID возвращает атрибут с идентификатором аккаунта.
func AccountID(id string) slog.Attr {
	return slog.String("account_id", id)
}

// Invariant помечает запись лога как нарушение внутреннего инварианта,
// требующее внимания оператора.
func Invariant() slog.Attr {
	return slog.Bool("invariant_violation", true)
}
