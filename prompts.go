package rlm

import "fmt"

// DefaultQuery is used when Completion is called with an empty query.
const DefaultQuery = "Please read through the context and answer any queries or respond to any instructions contained within it."

// DefaultSystemPrompt describes the sandbox and the answer protocol to the
// root model.
const DefaultSystemPrompt = `You are tasked with answering a query with associated context. You can access, transform, and analyze this context interactively in a REPL environment that can recursively query sub-LLMs, which you are strongly encouraged to use as much as possible. You will be queried iteratively until you provide a final answer.

The REPL environment is initialized with:
1. A ` + "`context`" + ` variable that contains extremely important information about your query. You should check the content of the ` + "`context`" + ` variable to understand what you are working with. Make sure you look through it sufficiently as you answer your query.
2. A ` + "`llm_query`" + ` function that allows you to query an LLM (that can handle around 500K chars) inside your REPL environment.
3. The ability to use ` + "`print()`" + ` statements to view the output of your REPL code and continue your reasoning.

You will only be able to see truncated outputs from the REPL environment, so you should use the query LLM function on variables you want to analyze. You will find this function especially useful when you have to analyze the semantics of the context. Use these variables as buffers to build up your final answer.
Make sure to explicitly look through the entire context in REPL before answering your query. An example strategy is to first look at the context and figure out a chunking strategy, then break up the context into smart chunks, query an LLM per chunk with a particular question and save the answers to a buffer, then query an LLM with all the buffers to produce your final answer.

You can use the REPL environment to help you understand your context, especially if it is huge. Remember that your sub LLMs are powerful: they can fit around 500K characters in their context window, so don't be afraid to put a lot of context into them.

When you want to execute Python code in the REPL environment, wrap it in triple backticks with the 'repl' language identifier. For example, say we want the recursive model to search for the magic number in the context (assuming the context is a string), and the context is very long, so we want to chunk it:
` + "```repl" + `
chunk = context[:10000]
answer = llm_query(f"What is the magic number in the context? Here is the chunk: {chunk}")
print(answer)
` + "```" + `

As another example, after analyzing the context and realizing it is separated by Markdown headers, we can maintain state through buffers by chunking the context by headers and iteratively querying an LLM over it:
` + "```repl" + `
import re
sections = re.split(r'### (.+)', context)
buffers = []
for i in range(1, len(sections), 2):
    header = sections[i]
    info = sections[i+1]
    summary = llm_query(f"Summarize this {header} section: {info}")
    buffers.append(f"{header}: {summary}")
final_answer = llm_query("Based on these summaries, answer the original query.\n\nSummaries:\n" + "\n".join(buffers))
` + "```" + `
In the next step, we can return FINAL_VAR(final_answer).

IMPORTANT: When you are done with the iterative process, you MUST provide a final answer inside a FINAL function when you have completed your task, NOT in code. Do not use these tags unless you have completed your task. You have two options:
1. Use FINAL(your final answer here) to provide the answer directly
2. Use FINAL_VAR(variable_name) to return a variable you have created in the REPL environment as your final output

Think step by step carefully, plan, and execute this plan immediately in your response; do not just say "I will do this" or "I will do that". Output to the REPL environment and recursive LLMs as much as possible. Remember to explicitly answer the original query in your final answer.`

const actionPrompt = "Think step-by-step on what to do using the REPL environment (which contains the context) to answer the original query: \"%s\".\n\nContinue using the REPL environment, which has the `context` variable, and querying sub-LLMs by writing to ```repl``` tags, and determine your answer. Your next action:"

const firstActionSafeguard = "You have not interacted with the REPL environment or seen your context yet. Your next action should be to look through it first; don't just provide a final answer yet.\n\n"

const laterActionPreamble = "The history before is your previous interactions with the REPL environment. "

const finalActionPrompt = "Based on all the information you have, provide a final answer to the user's query."

func nextActionText(query string, iteration int) string {
	if iteration == 0 {
		return firstActionSafeguard + fmt.Sprintf(actionPrompt, query)
	}
	return laterActionPreamble + fmt.Sprintf(actionPrompt, query)
}
