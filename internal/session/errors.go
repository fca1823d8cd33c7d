package session

import "errors"

var (
	// ErrTransportUnavailable менеджер создан без транспорта или уже уничтожен
	ErrTransportUnavailable = errors.New("session transport unavailable")
	ErrAlreadyInSession     = errors.New("already in a session")
	ErrNotInSession         = errors.New("not in a session")
	ErrNotHost              = errors.New("only the host can do this")
	ErrUnknownParticipant   = errors.New("unknown participant")
	ErrPasswordRequired     = errors.New("session requires a password")
	ErrDescriptorExpired    = errors.New("session descriptor expired")

	// ErrEjected is the sticky error of a guest removed by the host.
	ErrEjected = errors.New("removed from the session by the host")
	// ErrHostLeft завершает сессию гостя, когда хост ушел
	ErrHostLeft = errors.New("host left the session")
	// ErrConnectionLost транспорт закрылся не по нашей инициативе
	ErrConnectionLost = errors.New("session connection lost")
	// ErrContentTimeout never reaches callers; timed out requests resolve as absent.
	ErrContentTimeout = errors.New("content request timed out")
)
