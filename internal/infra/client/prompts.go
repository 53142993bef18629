package client

// Fixed instructions sent with each request. They are part of the contract
// with the model and are not configurable.
const (
	scanBillSystemPrompt = "You are a system that extracts structured expense data from bill images."
	scanBillUserPrompt   = "Extract expense details from the attached bill image. " +
		"Return the data in JSON format matching the ExpenseReport schema."

	categorizeSystemPrompt = "You are a system that categorizes expenses into predefined categories " +
		"such as Groceries, Transport, Entertainment, Utilities, Miscellaneous, Shopping etc."
	categorizeUserPrompt = "Categorize the following expenses:\n%s\n" +
		"Return the data in JSON format matching the CategorizedExpenseReport schema."

	answerQuerySystemPrompt = "You are an assistant for expense analysis. " +
		"Use the provided context to answer the query directly. " +
		"Do not invoke any tools to answer the query unnecessarily. " +
		"Strictly answer from context. " +
		"If there is no enough information to answer from context, respond as '%s'"
	answerQueryUserPrompt = "Answer the user query based on below context strictly.\n" +
		"Context: %s\n" +
		"User Query: %s"
)
