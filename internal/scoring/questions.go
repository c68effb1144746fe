package scoring

import "github.com/eval-hub/model-arena/pkg/api"

// DefaultQuestions is the question bank used when a task brings no eval questions.
var DefaultQuestions = []api.EvalQuestion{
	{ID: "c1", Category: api.CategoryCorrectness, Question: "Does the response answer the task that was asked?"},
	{ID: "c2", Category: api.CategoryCorrectness, Question: "Is every fact in the response supported by the input data?"},
	{ID: "c3", Category: api.CategoryCorrectness, Question: "Does the response cover every item of the input that the task asks about?"},
	{ID: "c4", Category: api.CategoryCorrectness, Question: "Are the numbers, names and dates in the response copied correctly from the input?"},
	{ID: "c5", Category: api.CategoryCorrectness, Question: "Does the response respect the constraints stated in the task?"},
	{ID: "c6", Category: api.CategoryCorrectness, Question: "Is the final answer stated explicitly?"},
	{ID: "c7", Category: api.CategoryCorrectness, Question: "Does the response avoid contradicting itself?"},
	{ID: "c8", Category: api.CategoryCorrectness, Question: "Does the response follow the evaluation rubric?"},
	{ID: "c9", Category: api.CategoryCorrectness, Question: "Would a domain expert accept the final answer as correct?"},
	{ID: "c10", Category: api.CategoryCorrectness, Question: "Does the response return the number of results the task asks for?"},

	{ID: "q1", Category: api.CategoryQuality, Question: "Does the response use clear headings, numbering or sections?"},
	{ID: "q2", Category: api.CategoryQuality, Question: "Is the formatting consistent across the response?"},
	{ID: "q3", Category: api.CategoryQuality, Question: "Is the response concise, without filler or needless repetition?"},
	{ID: "q4", Category: api.CategoryQuality, Question: "Are lists used where the content is a list?"},
	{ID: "q5", Category: api.CategoryQuality, Question: "Is the language clear and free of grammatical errors?"},
	{ID: "q6", Category: api.CategoryQuality, Question: "Does the response include specific details rather than generic statements?"},
	{ID: "q7", Category: api.CategoryQuality, Question: "Is the most important information presented first?"},
	{ID: "q8", Category: api.CategoryQuality, Question: "Are priorities or levels labelled where the task involves ranking?"},
	{ID: "q9", Category: api.CategoryQuality, Question: "Are deadlines or timeframes mentioned where the input contains them?"},
	{ID: "q10", Category: api.CategoryQuality, Question: "Could a busy reader scan the response in under a minute?"},

	{ID: "r1", Category: api.CategoryReasoning, Question: "Does the response explain why it reached its answer?"},
	{ID: "r2", Category: api.CategoryReasoning, Question: "Is the stated reasoning consistent with the final answer?"},
	{ID: "r3", Category: api.CategoryReasoning, Question: "Does the response weigh the relevant factors of the task?"},
	{ID: "r4", Category: api.CategoryReasoning, Question: "Does the response distinguish between what is urgent and what is important?"},
	{ID: "r5", Category: api.CategoryReasoning, Question: "Does the response avoid inventing details that are not in the input?"},
	{ID: "r6", Category: api.CategoryReasoning, Question: "Are the trade-offs between alternatives acknowledged?"},
	{ID: "r7", Category: api.CategoryReasoning, Question: "Does the ordering of the answer follow from the stated criteria?"},
	{ID: "r8", Category: api.CategoryReasoning, Question: "Are irrelevant items of the input left out of the answer?"},
	{ID: "r9", Category: api.CategoryReasoning, Question: "Are suggested actions relevant to the content they refer to?"},
	{ID: "r10", Category: api.CategoryReasoning, Question: "Would a careful human arrive at a similar conclusion?"},

	{ID: "u1", Category: api.CategoryUsability, Question: "Does the response give enough context that the reader does not need the input?"},
	{ID: "u2", Category: api.CategoryUsability, Question: "Are next steps clear enough to act on immediately?"},
	{ID: "u3", Category: api.CategoryUsability, Question: "Does the response say what can be safely ignored or deferred?"},
	{ID: "u4", Category: api.CategoryUsability, Question: "Is the tone professional and appropriate for a work context?"},
	{ID: "u5", Category: api.CategoryUsability, Question: "Could the response be forwarded as is to a colleague?"},
}

// questionsFor returns the eval questions of the task, or the default bank.
func questionsFor(task *api.TaskSpec) []api.EvalQuestion {
	if task != nil && len(task.EvalQuestions) > 0 {
		return task.EvalQuestions
	}
	return DefaultQuestions
}

// ScoreAnswers turns yes/no answers into the four axis scores. The score of an axis is
// the share of its questions answered yes, 0 when the axis has no question. Missing
// answers count as no.
func ScoreAnswers(questions []api.EvalQuestion, answers map[string]string) api.Scores {
	total := map[api.Category]int{}
	yes := map[api.Category]int{}
	for _, q := range questions {
		total[q.Category]++
		if isYes(answers[q.ID]) {
			yes[q.Category]++
		}
	}
	scores := api.Scores{}
	for _, category := range api.Categories {
		if total[category] == 0 {
			continue
		}
		scores.Set(category, float64(yes[category])/float64(total[category]))
	}
	return scores
}
