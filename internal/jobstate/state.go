// Package jobstate описывает конечный автомат задачи обработки:
// упорядоченную последовательность состояний, допустимые переходы
// и прогресс, сообщаемый клиенту в каждом состоянии.
//
// Успешный путь: queued → analyzing → mixing → mastering → complete.
// Из любого нетерминального состояния возможен переход в error.
package jobstate

import "fmt"

// State — состояние задачи.
type State string

const (
	Queued    State = "queued"
	Analyzing State = "analyzing"
	Mixing    State = "mixing"
	Mastering State = "mastering"
	Complete  State = "complete"
	Error     State = "error"
)

// successPath задаёт порядок состояний успешного пути.
var successPath = []State{Queued, Analyzing, Mixing, Mastering, Complete}

var progress = map[State]int{
	Queued:    0,
	Analyzing: 25,
	Mixing:    55,
	Mastering: 80,
	Complete:  100,
}

var rank = func() map[State]int {
	m := make(map[State]int, len(successPath))
	for i, s := range successPath {
		m[s] = i
	}
	return m
}()

// Parse разбирает строковое представление состояния.
func Parse(s string) (State, error) {
	st := State(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown job state %q", s)
	}
	return st, nil
}

// Valid сообщает, известно ли состояние.
func (s State) Valid() bool {
	if s == Error {
		return true
	}
	_, ok := rank[s]
	return ok
}

// Terminal сообщает, является ли состояние конечным.
func (s State) Terminal() bool {
	return s == Complete || s == Error
}

// Progress возвращает процент выполнения, сообщаемый клиенту.
// Для error возвращается -1: прогресс задачи при ошибке не меняется.
func (s State) Progress() int {
	p, ok := progress[s]
	if !ok {
		return -1
	}
	return p
}

// Next возвращает следующее состояние успешного пути.
func (s State) Next() (State, bool) {
	i, ok := rank[s]
	if !ok || i+1 >= len(successPath) {
		return "", false
	}
	return successPath[i+1], true
}

// CanTransition проверяет переход from → to.
// Допустим только шаг на следующее состояние успешного пути
// или уход в error из нетерминального состояния.
func CanTransition(from, to State) bool {
	if !from.Valid() || !to.Valid() || from.Terminal() {
		return false
	}
	if to == Error {
		return true
	}
	next, ok := from.Next()
	return ok && next == to
}

// Before сообщает, предшествует ли s состоянию other на успешном пути.
// Состояние error не упорядочено относительно остальных.
func (s State) Before(other State) bool {
	a, okA := rank[s]
	b, okB := rank[other]
	return okA && okB && a < b
}

// ProcessingStates возвращает состояния, в которых выполняется этап обработки.
func ProcessingStates() []State {
	return []State{Analyzing, Mixing, Mastering}
}
