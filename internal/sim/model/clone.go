package model

// Clone returns a deep copy; the engine mutates clones so a failed write never leaks into the cache.
func (s *LobbyState) Clone() *LobbyState {
	if s == nil {
		return nil
	}
	out := *s

	out.Presence = make(map[string]int64, len(s.Presence))
	for k, v := range s.Presence {
		out.Presence[k] = v
	}

	out.Clips = append([]ClipHistoryItem(nil), s.Clips...)
	out.EpochHistory = append([]EpochHistoryItem(nil), s.EpochHistory...)

	out.Votes = make(map[string]*TurnVotes, len(s.Votes))
	for k, tv := range s.Votes {
		if tv == nil {
			continue
		}
		cp := *tv
		cp.Votes = make(map[string]Side, len(tv.Votes))
		for addr, side := range tv.Votes {
			cp.Votes[addr] = side
		}
		out.Votes[k] = &cp
	}

	out.Epochs = make(map[int64]*EpochAggregate, len(s.Epochs))
	for k, e := range s.Epochs {
		if e == nil {
			continue
		}
		cp := *e
		out.Epochs[k] = &cp
	}

	out.Bets = make(map[int64]map[string]*EpochBet, len(s.Bets))
	for epoch, byAddr := range s.Bets {
		m := make(map[string]*EpochBet, len(byAddr))
		for addr, b := range byAddr {
			if b == nil {
				continue
			}
			cp := *b
			m[addr] = &cp
		}
		out.Bets[epoch] = m
	}
	return &out
}
