/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package rebalance

// maxBalanceMoves bounds the load-balancing loop as a guard against a
// planning bug turning into an infinite loop; the loop's own
// no-legal-move check is the real termination condition.
const maxBalanceMoves = 10000

// balance runs spec.md §4.5 step 8: while some node holds fewer than Min
// or more than Max files, schedule one relocation and repeat. Each move
// strictly decreases the sum of per-node over/under counts, so the loop
// terminates once every node is within [Min, Max] or no legal move
// remains.
func balance(p *Plan) {
	for i := 0; i < maxBalanceMoves; i++ {
		over := mostOverloaded(p)
		if over != "" {
			if fname, dest := pickRelief(p, over); fname != "" {
				p.scheduleMove(over, dest, fname)
				continue
			}
		}
		under := mostUnderloaded(p)
		if under != "" {
			if fname, src := pickDonor(p, under); fname != "" {
				p.scheduleMove(src, under, fname)
				continue
			}
		}
		break // no node out of range, or no legal move exists
	}
}

// mostOverloaded returns the port with the most files above Max,
// breaking ties by ascending port. Empty string if none qualifies.
func mostOverloaded(p *Plan) string {
	best := ""
	bestExcess := 0
	for _, port := range sortedKeys(p.Currents) {
		excess := len(p.Currents[port]) - p.Max
		if excess > bestExcess || (excess > 0 && excess == bestExcess && (best == "" || port < best)) {
			best, bestExcess = port, excess
		}
	}
	return best
}

// mostUnderloaded returns the port with the fewest files below Min,
// breaking ties by ascending port. Empty string if none qualifies.
func mostUnderloaded(p *Plan) string {
	best := ""
	bestDeficit := 0
	for _, port := range sortedKeys(p.Currents) {
		deficit := p.Min - len(p.Currents[port])
		if deficit > bestDeficit || (deficit > 0 && deficit == bestDeficit && (best == "" || port < best)) {
			best, bestDeficit = port, deficit
		}
	}
	return best
}

// pickRelief chooses one file held by the overloaded node whose
// least-loaded eligible destination (a node not already holding it)
// has the fewest files, and returns that file and destination.
func pickRelief(p *Plan, over string) (string, string) {
	bestFile, bestDest := "", ""
	bestCount := -1
	for _, fname := range p.Currents[over] {
		dest := pickLeastLoadedExcluding(p.Currents, p.FilesStored[fname])
		if dest == "" {
			continue
		}
		c := len(p.Currents[dest])
		if bestCount == -1 || c < bestCount || (c == bestCount && dest < bestDest) {
			bestFile, bestDest, bestCount = fname, dest, c
		}
	}
	return bestFile, bestDest
}

// pickDonor chooses the most-loaded node that holds a file the
// underloaded node does not, and returns that file and source port.
func pickDonor(p *Plan, under string) (string, string) {
	holds := make(map[string]bool, len(p.Currents[under]))
	for _, f := range p.Currents[under] {
		holds[f] = true
	}
	bestFile, bestSrc := "", ""
	bestCount := -1
	for _, src := range sortedKeys(p.Currents) {
		if src == under {
			continue
		}
		for _, fname := range p.Currents[src] {
			if holds[fname] {
				continue
			}
			c := len(p.Currents[src])
			if bestCount == -1 || c > bestCount || (c == bestCount && src < bestSrc) {
				bestFile, bestSrc, bestCount = fname, src, c
			}
			break // one candidate file per source is enough to compare load
		}
	}
	return bestFile, bestSrc
}
