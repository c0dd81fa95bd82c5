package queue

import (
	"sort"

	"jamroom/internal/models"

	"github.com/google/uuid"
)

// Eligible filters a session's tracks down to the set the ordering applies
// to: approved and not currently playing. Pending tracks are surfaced to
// the room separately and never ordered.
func Eligible(tracks []*models.QueueTrack) []*models.QueueTrack {
	out := make([]*models.QueueTrack, 0, len(tracks))
	for _, t := range tracks {
		if t.Status == models.TrackApproved && !t.IsCurrent {
			out = append(out, t)
		}
	}
	return out
}

// Pending returns the tracks awaiting host approval, in insertion order.
func Pending(tracks []*models.QueueTrack) []*models.QueueTrack {
	out := make([]*models.QueueTrack, 0)
	for _, t := range tracks {
		if t.Status == models.TrackPending {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// Order produces the mode-specific total order over eligible tracks. The
// head of the result is what plays next. Input is not mutated.
func Order(mode models.RoomMode, tracks []*models.QueueTrack) []*models.QueueTrack {
	eligible := Eligible(tracks)
	switch mode {
	case models.ModeCampfire:
		return roundRobin(eligible)
	case models.ModeOpenFloor:
		return byVotes(eligible)
	default:
		return byPosition(eligible)
	}
}

// roundRobin interleaves one track per adder per round. Adders cycle in
// the order their first track was added; within one adder tracks keep
// insertion order. An adder with fewer tracks drops out of later rounds,
// so no single adder can monopolize the front of the queue.
func roundRobin(tracks []*models.QueueTrack) []*models.QueueTrack {
	sorted := byPosition(tracks)

	var adders []uuid.UUID
	perAdder := make(map[uuid.UUID][]*models.QueueTrack)
	for _, t := range sorted {
		if _, seen := perAdder[t.AddedBy]; !seen {
			adders = append(adders, t.AddedBy)
		}
		perAdder[t.AddedBy] = append(perAdder[t.AddedBy], t)
	}

	out := make([]*models.QueueTrack, 0, len(sorted))
	for round := 0; len(out) < len(sorted); round++ {
		for _, adder := range adders {
			if round < len(perAdder[adder]) {
				out = append(out, perAdder[adder][round])
			}
		}
	}
	return out
}

// byVotes ranks by vote total descending; earlier submissions win ties.
func byVotes(tracks []*models.QueueTrack) []*models.QueueTrack {
	out := make([]*models.QueueTrack, len(tracks))
	copy(out, tracks)
	sort.SliceStable(out, func(i, j int) bool {
		vi, vj := out[i].VoteTotal(), out[j].VoteTotal()
		if vi != vj {
			return vi > vj
		}
		return out[i].Position < out[j].Position
	})
	return out
}

func byPosition(tracks []*models.QueueTrack) []*models.QueueTrack {
	out := make([]*models.QueueTrack, len(tracks))
	copy(out, tracks)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}
