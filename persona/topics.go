package persona

// Topic is one recurring subject in the posts. It is passed through as the model
// produced it.
type Topic struct {
	Topic       string `json:"topic" jsonschema:"description=Short topic label"`
	Description string `json:"description" jsonschema:"description=One sentence on what the author says about it"`
	Sentiment   string `json:"sentiment" jsonschema:"description=positive / negative / neutral / mixed"`
	ExamplePost string `json:"example_post" jsonschema:"description=A representative post text copied from the input"`
}

type TopicList []Topic

func (l TopicList) Clone() TopicList {
	if l == nil {
		return nil
	}
	out := make(TopicList, len(l))
	copy(out, l)
	return out
}

type topicsResponse struct {
	Topics []Topic `json:"topics" jsonschema:"description=Recurring topics ordered by prominence"`
}
