package state

import "log/slog"

const errLevel = slog.LevelError
