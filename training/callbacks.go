package training

// ImitationShareCallback reports what share of each replica's combined loss
// the imitation term contributes, averaged across replicas. The share of a
// replica with a zero combined loss counts as zero.
type ImitationShareCallback struct{}

func (ImitationShareCallback) Name() string { return "imitation_share" }

func (ImitationShareCallback) Summarize(replicas []ReplicaResult) map[string]float64 {
	var share float64
	for _, r := range replicas {
		if total := r.MetaLoss + r.ImitationLoss; total != 0 {
			share += r.ImitationLoss / total
		}
	}
	return map[string]float64{"imitation_share": share / float64(len(replicas))}
}
