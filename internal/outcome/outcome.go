package outcome

import (
	nchess "github.com/corentings/chess/v2"

	"github.com/kapu/chess-arena-server/internal/domain"
)

// Signals carry everything besides the board that can end a session.
// Zero values mean "signal absent".
type Signals struct {
	TimeoutColor     domain.Color
	ResignColor      domain.Color
	DrawAgreed       bool
	DisconnectColor  domain.Color
	FirstMovePending bool
}

// Verdict is a definitive end state. Winner is empty on draws and aborts.
type Verdict struct {
	Result domain.Result
	Reason domain.Reason
	Winner domain.Color
}

func winOver(loser domain.Color, reason domain.Reason) *Verdict {
	w := loser.Other()
	r := domain.ResultWhiteWins
	if w == domain.Black {
		r = domain.ResultBlackWins
	}
	return &Verdict{Result: r, Reason: reason, Winner: w}
}

func draw(reason domain.Reason) *Verdict {
	return &Verdict{Result: domain.ResultDraw, Reason: reason}
}

// Evaluate decides whether the session is over. Signal precedence:
// resignation, draw agreement, timeout, disconnection, then board state.
// Returns nil when the session continues.
func Evaluate(g *nchess.Game, sig Signals) *Verdict {
	if sig.ResignColor != "" {
		return winOver(sig.ResignColor, domain.ReasonResignation)
	}
	if sig.DrawAgreed {
		return draw(domain.ReasonDrawAgreement)
	}
	if sig.TimeoutColor != "" {
		// Flag fall against a side that could never checkmate is a draw.
		if g != nil && !hasMatingMaterial(g.Position().Board(), sig.TimeoutColor.Other()) {
			return draw(domain.ReasonTimeout)
		}
		return winOver(sig.TimeoutColor, domain.ReasonTimeout)
	}
	if sig.DisconnectColor != "" {
		if sig.FirstMovePending {
			// The game never meaningfully started.
			return &Verdict{Result: domain.ResultAborted, Reason: domain.ReasonAbort}
		}
		if g != nil {
			b := g.Position().Board()
			if !hasMatingMaterial(b, domain.White) && !hasMatingMaterial(b, domain.Black) {
				return draw(domain.ReasonAbandonment)
			}
		}
		return winOver(sig.DisconnectColor, domain.ReasonAbandonment)
	}
	if g == nil {
		return nil
	}
	return fromBoard(g)
}

// fromBoard maps the oracle's terminal states. Checkmate and stalemate come
// from the outcome itself; repetition and fifty-move are eligible draws that
// this server applies automatically.
func fromBoard(g *nchess.Game) *Verdict {
	switch g.Outcome() {
	case nchess.WhiteWon:
		return &Verdict{Result: domain.ResultWhiteWins, Reason: mapMethod(g.Method()), Winner: domain.White}
	case nchess.BlackWon:
		return &Verdict{Result: domain.ResultBlackWins, Reason: mapMethod(g.Method()), Winner: domain.Black}
	case nchess.Draw:
		return draw(mapMethod(g.Method()))
	}
	for _, m := range g.EligibleDraws() {
		switch m {
		case nchess.ThreefoldRepetition:
			return draw(domain.ReasonThreefold)
		case nchess.FiftyMoveRule:
			return draw(domain.ReasonFiftyMove)
		}
	}
	return nil
}

func mapMethod(m nchess.Method) domain.Reason {
	switch m {
	case nchess.Checkmate:
		return domain.ReasonCheckmate
	case nchess.Stalemate:
		return domain.ReasonStalemate
	case nchess.InsufficientMaterial:
		return domain.ReasonInsufficientMat
	case nchess.ThreefoldRepetition, nchess.FivefoldRepetition:
		return domain.ReasonThreefold
	case nchess.FiftyMoveRule, nchess.SeventyFiveMoveRule:
		return domain.ReasonFiftyMove
	default:
		return domain.ReasonCheckmate
	}
}

// hasMatingMaterial reports whether the side could ever deliver checkmate:
// any pawn, rook or queen, two bishops, bishop plus knight, or three knights.
func hasMatingMaterial(b *nchess.Board, c domain.Color) bool {
	want := nchess.White
	if c == domain.Black {
		want = nchess.Black
	}
	var bishops, knights int
	for _, p := range b.SquareMap() {
		if p.Color() != want {
			continue
		}
		switch p.Type() {
		case nchess.Pawn, nchess.Rook, nchess.Queen:
			return true
		case nchess.Bishop:
			bishops++
		case nchess.Knight:
			knights++
		}
	}
	return bishops >= 2 || (bishops >= 1 && knights >= 1) || knights >= 3
}
