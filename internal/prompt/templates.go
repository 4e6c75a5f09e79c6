package prompt

// Templates are dotprompt (handlebars) sources. Triple braces keep values unescaped.
var builtin = map[string]string{
	PlannerPreamble: plannerPreamble,
	PlannerQuestion: plannerQuestion,
	SQLQuery:        sqlQuery,
	PlotCode:        plotCode,
	Summarize:       summarize,
}

const plannerPreamble = `Answer the following questions as best you can. You have access to the following tools:

{{{tools}}}
Use the following format:

Question: the input question you must answer
Thought: you should always think about what to do
Action: the action to take, should be one of [{{{tool_names}}}]
Action Input: the input to the action
Observation: the result of the action
... (this Thought/Action/Action Input/Observation can repeat N times)
Thought: I now know the final answer
Final Action: the action to take, should be one of [Text, Plot] 
Final Answer: the final answer to the original input question

Begin!

`

const plannerQuestion = `Question: {{{question}}}
Thought:`

const sqlQuery = `Given an input question, first create a syntactically correct sqlite query to run, then look at the results of the query and return the answer. You can order the results by a relevant column to return the most interesting examples in the database at the top.

Never query for all the columns from a specific table, only ask for the few relevant columns given the question.

Pay attention to use only the column names that you can see in the schema description. Be careful to not query for columns that do not exist. Also, pay attention to which column is in which table.

Use the following format:

Question: "Question here"
SQLQuery: "SQL Query to run"
SQLResult: "Result of the SQLQuery"
Answer: "Final answer here"

Only use the following tables:

{{{tables_info}}}

Question: {{{question}}}
SQLQuery: `

const plotCode = `I want you to act as a data scientist and code for me. Given an input question and an input summary please write code for visualizing the data in the dataframe df.

The figure should clearly and effectively communicate the information in the data, and should be visually appealing. Please use Plotly's features such as annotations, color scales, and subplots as appropriate to enhance the figure's readability and impact.

Use the following format:

Question: "Question here"
Code: "Code to run here"

### Input Summary
{{{input_summary}}}
###


Question: {{{question}}}
Code:`

const summarize = `Write a concise summary of the following:

{{{text}}}

CONCISE SUMMARY:`
