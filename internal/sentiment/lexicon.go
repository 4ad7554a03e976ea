package sentiment

// DefaultLexicon returns the built-in English word lists. Kept deliberately
// small; operators extend it through configuration rather than code.
func DefaultLexicon() Lexicon {
	return Lexicon{
		Positive: []string{
			"good", "great", "excellent", "amazing", "awesome", "love",
			"fantastic", "wonderful", "best", "impressive", "happy",
			"recommend", "brilliant", "perfect", "delight", "win",
		},
		Negative: []string{
			"bad", "terrible", "awful", "horrible", "hate", "worst",
			"disappoint", "broken", "useless", "poor", "scam", "fail",
			"angry", "frustrat", "refund", "bug",
		},
		Intensifiers: []string{
			"very", "really", "extremely", "absolutely", "totally",
			"incredibly", "so", "super",
		},
	}
}
