package capacity

import "time"

const sleepCutoffUs = 100

// Throttle is the per-call entry point: it reserves a time slot for
// writing (or reading) bytes bytes under tag's subsystem, possibly borrows
// unused reservation from an idle peer, and sleeps until the reservation
// is satisfied.
//
// Throttle returns immediately if both tag's capacity and the total
// capacity are zero, or while the state is marked recovering.
func (s *ConnectionCapacityState) Throttle(tag Tag, bytes uint64) {
	sub := s.subsystemFor(tag)
	capacity := sub.capacity.Load()
	totalCapacity := s.capacityTotal.Load()

	s.collab.Stats.IncrCounter(callsKey(tag))
	s.collab.Stats.IncrCounter(StatTotalCalls)

	if (capacity == 0 && totalCapacity == 0) || s.recovering.Load() {
		return
	}

	if tag != Read {
		s.capacityWritten.Add(bytes)
		s.collab.Stats.IncrCounterBy(StatBytesWritten, bytes)
		s.signal()
	} else {
		s.collab.Stats.IncrCounterBy(StatBytesRead, bytes)
	}

	nowNs := uint64(s.collab.Clock.Now().UnixNano())

	borrowAttempted := false
	var resValue, resTotalValue uint64
	for {
		resValue = s.reserve(sub.reservation, bytes, capacity, nowNs)
		resTotalValue = s.reserve(&s.reservationTotal, bytes, totalCapacity, nowNs)

		if resValue > nowNs && resTotalValue <= nowNs && !borrowAttempted && totalCapacity != 0 {
			borrowAttempted = true
			if victimTag, victimCapacity, victimRes, ok := s.pickVictim(tag, nowNs); ok {
				var newRes uint64
				if victimRes < nowNs-nanosPerSecond && nowNs > nanosPerSecond {
					newRes = nowNs - nanosPerSecond
				} else {
					newRes = victimRes
				}
				newRes += nanosPerSecond/16 + slotNs(bytes, victimCapacity)

				victimCounter := s.subsystemFor(victimTag).reservation
				if !victimCounter.CompareAndSwap(victimRes, newRes) {
					subUint64(sub.reservation, slotNs(bytes, capacity))
					subUint64(&s.reservationTotal, slotNs(bytes, totalCapacity))
					continue
				}

				stolenBytes := victimCapacity / 16
				resValue = subUint64(sub.reservation, slotNs(stolenBytes, capacity))
			}
		}
		break
	}

	if resValue < resTotalValue {
		resValue = resTotalValue
	}

	if resValue > nowNs {
		sleepUs := (resValue - nowNs) / 1000
		if resValue == resTotalValue {
			s.collab.Stats.IncrCounter(StatTotalThrottle)
			s.collab.Stats.IncrCounterBy(StatTotalTime, sleepUs)
		} else {
			s.collab.Stats.IncrCounter(throttlesKey(tag))
			s.collab.Stats.IncrCounterBy(timeKey(tag), sleepUs)
		}
		if sleepUs > sleepCutoffUs {
			s.collab.Sleep.Sleep(time.Duration(sleepUs) * time.Microsecond)
		}
	}
}

// pickVictim finds the peer subsystem (excluding caller) with the lowest
// reservation counter, provided it is at least half a second behind
// nowNs. Ties go to whichever tag tagEvaluationOrder visits first.
func (s *ConnectionCapacityState) pickVictim(caller Tag, nowNs uint64) (tag Tag, capacity uint64, res uint64, ok bool) {
	best := nowNs - nanosPerSecond/2
	for _, t := range tagEvaluationOrder {
		if t == caller {
			continue
		}
		peer := s.subsystemFor(t)
		r := peer.reservation.Load()
		if r < best {
			best = r
			tag = t
			capacity = peer.capacity.Load()
			res = r
			ok = true
		}
	}
	return tag, capacity, res, ok
}
